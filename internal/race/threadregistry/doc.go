// Package threadregistry implements the thread-slot lifecycle state machine:
// Create, Start, Finish, Join, Detach, and process-exit Finalize.
//
// # Slots
//
// Every goroutine the engine observes occupies a slot, a small integer
// (uint16) reused across the program's lifetime once a thread has finished
// and been joined (or was detached). Reuse is deliberately delayed by a
// quarantine: a dead slot sits on a FIFO dead list until either the
// quarantine is over-full or the registry is out of fresh slot ids, so
// that a report referencing a recently-dead thread's shadow state doesn't
// collide with a live thread that was handed the same slot moments later.
//
//	Invalid --Create--> Created --Start--> Running --Finish--> Finished --Join--> Dead
//	                                           |                                   ^
//	                                           `--Detach-- sets detached; Finish of
//	                                                        a detached thread goes
//	                                                        straight to Dead.
//
// # Happens-before at create/start/finish/join
//
// Create takes the creating goroutine's current clock and releases it into
// the new slot's sync clock (a Join into what starts as an empty clock).
// Start acquires that sync clock into the new goroutine's own clock,
// completing parent-creates-child happens-before. Finish releases the
// finishing goroutine's final clock into the slot's sync clock again; Join
// acquires it into the joiner's clock, completing child-finishes-before-
// join happens-before. This mirrors a TSan runtime's ThreadCreate/
// ThreadStart/ThreadFinish/ThreadJoin exactly, with the same clock
// released-then-acquired through the slot rather than a direct handoff.
package threadregistry
