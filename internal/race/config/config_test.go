package config

import "testing"

func TestParse_IgnoreFileAndExitCode(t *testing.T) {
	opts := Parse("ignore_file=/tmp/race.ignore:exitcode=66")
	if opts.IgnoreFile != "/tmp/race.ignore" {
		t.Errorf("IgnoreFile = %q, want /tmp/race.ignore", opts.IgnoreFile)
	}
	if opts.ExitCode != 66 {
		t.Errorf("ExitCode = %d, want 66", opts.ExitCode)
	}
}

func TestParse_UnknownKeyIgnored(t *testing.T) {
	opts := Parse("halt_on_error=1:exitcode=1")
	if opts.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", opts.ExitCode)
	}
}

func TestParse_MalformedEntrySkipped(t *testing.T) {
	opts := Parse("exitcode:exitcode=2")
	if opts.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2 (malformed entry before it should be skipped, not fatal)", opts.ExitCode)
	}
}

func TestParse_Empty(t *testing.T) {
	opts := Parse("")
	if opts.IgnoreFile != "" || opts.ExitCode != 0 {
		t.Errorf("Parse(\"\") = %+v, want zero value", opts)
	}
}

func TestFromEnv_IndividualVarsAndOverlay(t *testing.T) {
	t.Setenv("RACE_IGNORE_FILE", "/etc/race.ignore")
	t.Setenv("RACE_EXITCODE", "1")
	t.Setenv("RACE_OPTIONS", "exitcode=77")

	opts := FromEnv()
	if opts.IgnoreFile != "/etc/race.ignore" {
		t.Errorf("IgnoreFile = %q, want /etc/race.ignore (preserved from discrete var)", opts.IgnoreFile)
	}
	if opts.ExitCode != 77 {
		t.Errorf("ExitCode = %d, want 77 (RACE_OPTIONS should override RACE_EXITCODE)", opts.ExitCode)
	}
}

func TestOptions_String_RoundTrips(t *testing.T) {
	opts := Options{IgnoreFile: "/tmp/x.ignore", ExitCode: 66}
	got := Parse(opts.String())
	if got.IgnoreFile != opts.IgnoreFile || got.ExitCode != opts.ExitCode {
		t.Errorf("round trip = %+v, want %+v", got, opts)
	}
}

func TestOptions_String_ZeroValueIsEmpty(t *testing.T) {
	if got := (Options{}).String(); got != "" {
		t.Errorf("String() on zero value = %q, want empty", got)
	}
}
