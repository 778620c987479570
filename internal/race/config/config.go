// Package config reads the runtime's configuration surface: the
// RACE_OPTIONS environment variable overlay plus the individual env
// vars the racedetector CLI sets for an instrumented binary it launches
// (RACE_IGNORE_FILE, RACE_EXITCODE), mirroring the GORACE/TSAN_OPTIONS
// convention of a single colon-separated key=value string.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Options holds the runtime-configurable knobs described in spec.md §6:
// an ignore-list file path and the process exit code to use when one or
// more races were detected.
type Options struct {
	// IgnoreFile is the path to an obj:/src:/fun: ignore-list file, or
	// empty if none was configured.
	IgnoreFile string

	// ExitCode is the process exit code to use on program exit if any
	// race was detected. Zero means "don't change the exit code."
	ExitCode int
}

// FromEnv reads RACE_IGNORE_FILE, RACE_EXITCODE, and RACE_OPTIONS from
// the environment and returns the resulting Options. RACE_OPTIONS is
// applied last and overrides the individual variables, matching the
// precedence a combined options string takes over discrete flags in the
// tools this convention is modeled on.
func FromEnv() Options {
	var opts Options

	if v := os.Getenv("RACE_IGNORE_FILE"); v != "" {
		opts.IgnoreFile = v
	}
	if v := os.Getenv("RACE_EXITCODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.ExitCode = n
		}
	}

	if raw := os.Getenv("RACE_OPTIONS"); raw != "" {
		applyOptionsString(raw, &opts)
	}

	return opts
}

// Parse reads a RACE_OPTIONS-style string directly, for callers (like the
// CLI) that build the string themselves rather than reading it from the
// environment.
func Parse(raw string) Options {
	var opts Options
	applyOptionsString(raw, &opts)
	return opts
}

// applyOptionsString parses a "key1=val1:key2=val2" string, the same
// colon-separated key=value convention TSAN_OPTIONS/GORACE use. Unknown
// keys and malformed entries are ignored rather than treated as fatal -
// a typo in an options string shouldn't crash an otherwise-working
// instrumented program.
func applyOptionsString(raw string, opts *Options) {
	for _, part := range strings.Split(raw, ":") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "ignore_file":
			opts.IgnoreFile = val
		case "exitcode":
			if n, err := strconv.Atoi(val); err == nil {
				opts.ExitCode = n
			}
		}
	}
}

// String renders opts back into the RACE_OPTIONS wire format, used by the
// CLI to pass -race.ignore/-race.exitcode through to an instrumented
// binary it launches via 'racedetector run'.
func (o Options) String() string {
	var parts []string
	if o.IgnoreFile != "" {
		parts = append(parts, "ignore_file="+o.IgnoreFile)
	}
	if o.ExitCode != 0 {
		parts = append(parts, "exitcode="+strconv.Itoa(o.ExitCode))
	}
	return strings.Join(parts, ":")
}
