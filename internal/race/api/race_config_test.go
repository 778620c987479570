package api

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIgnoreFile_ValidFileInstallsLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "race.ignore")
	if err := os.WriteFile(path, []byte("fun:main.ignored\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loadIgnoreFile(path)
	defer det.SetIgnoreLists(nil)

	if !det.IsSuppressed("main.ignored", "", "") {
		t.Error("loadIgnoreFile should install a fun: rule that IsSuppressed then matches")
	}
}

func TestLoadIgnoreFile_MissingFileLeavesDetectorUnchanged(t *testing.T) {
	det.SetIgnoreLists(nil)
	loadIgnoreFile(filepath.Join(t.TempDir(), "does-not-exist.ignore"))
	if det.IsSuppressed("anything", "", "") {
		t.Error("a missing ignore file should not install any suppression rule")
	}
}

func TestFini_ExitCodeNotAppliedWhenZero(t *testing.T) {
	// Guards against a regression where Fini would call os.Exit
	// unconditionally; raceOpts.ExitCode defaults to zero in tests since
	// RACE_EXITCODE/RACE_OPTIONS aren't set in this process's environment.
	if raceOpts.ExitCode != 0 {
		t.Skip("RACE_EXITCODE/RACE_OPTIONS set in test environment, skipping")
	}
	Reset()
	Enable()
	Fini()
	Enable()
}
