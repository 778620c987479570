// build.go implements the 'racedetector build' command.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kolkov/racedetector/cmd/racedetector/instrument"
	"github.com/kolkov/racedetector/cmd/racedetector/runtime"
	"github.com/kolkov/racedetector/internal/race/config"
)

// buildCommand implements the 'racedetector build' command.
//
// This command instruments Go source files and builds them with race detection.
// It acts as a drop-in replacement for 'go build', supporting all standard flags.
//
// Flow:
//  1. Parse arguments (source files + go build flags)
//  2. Create temporary workspace
//  3. Instrument source files (insert race detection calls)
//  4. Setup runtime linking (go.mod overlay)
//  5. Call 'go build' with instrumented code
//  6. Cleanup temporary files
//
// Example:
//
//	racedetector build main.go
//	racedetector build -o myapp main.go helper.go
//	racedetector build -ldflags="-s -w" .
func buildCommand(args []string) {
	// Parse arguments
	config, err := parseBuildArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Validate runtime is available
	if err := runtime.ValidateRuntimeAvailable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Race detector runtime not found\n")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprintf(os.Stderr, "\nPlease ensure the runtime is installed:\n")
		fmt.Fprintf(os.Stderr, "  go get github.com/kolkov/racedetector/internal/race/api\n")
		os.Exit(1)
	}

	// Create temporary workspace
	workspace, err := createWorkspace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	defer workspace.cleanup()

	// Instrument source files
	if err := instrumentSources(config, workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Error instrumenting sources: %v\n", err)
		os.Exit(1)
	}

	// Setup runtime linking
	workspace.originalSourceDir = config.workDir
	if err := workspace.setupRuntimeLinking(); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up runtime: %v\n", err)
		os.Exit(1)
	}

	// Build instrumented code
	if err := workspace.build(config); err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}

	// Success!
	if config.outputFile != "" {
		fmt.Printf("Built successfully: %s\n", config.outputFile)
	}
}

// buildConfig holds configuration for the build command.
type buildConfig struct {
	// Source files to instrument and build
	sourceFiles []string

	// Output binary name (from -o flag)
	outputFile string

	// Additional go build flags
	buildFlags []string

	// Working directory for build
	workDir string

	// Verbose output flag (-v)
	verbose bool

	// raceIgnoreFile is the path given via -race.ignore, or empty.
	raceIgnoreFile string

	// raceExitCode is the value given via -race.exitcode, or 0 if unset.
	raceExitCode int
}

// parseBuildArgs parses command-line arguments for 'racedetector build'.
//
// It separates:
//   - Source files (.go files or directories)
//   - Output file (-o flag)
//   - Go build flags (everything else)
//
// Returns buildConfig with parsed arguments.
func parseBuildArgs(args []string) (*buildConfig, error) {
	config := &buildConfig{
		sourceFiles: []string{},
		buildFlags:  []string{},
	}

	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	config.workDir = cwd

	// Parse arguments
	expectingValue := false
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// If previous flag expects a value, this is it (even if it starts with -)
		// Example: -ldflags "-s -w"
		if expectingValue {
			config.buildFlags = append(config.buildFlags, arg)
			expectingValue = false
			continue
		}

		// Handle -o flag (output file)
		if arg == "-o" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o flag requires an argument")
			}
			i++
			config.outputFile = args[i]
			continue
		}

		// Handle -o=file format
		if strings.HasPrefix(arg, "-o=") {
			config.outputFile = strings.TrimPrefix(arg, "-o=")
			continue
		}

		// Handle -v flag (verbose output)
		if arg == "-v" {
			config.verbose = true
			continue
		}

		// Handle -race.ignore=<path> (consumed here, not passed to go build).
		if strings.HasPrefix(arg, "-race.ignore=") {
			config.raceIgnoreFile = strings.TrimPrefix(arg, "-race.ignore=")
			continue
		}

		// Handle -race.exitcode=<n> (consumed here, not passed to go build).
		if strings.HasPrefix(arg, "-race.exitcode=") {
			val := strings.TrimPrefix(arg, "-race.exitcode=")
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid -race.exitcode value %q: %w", val, err)
			}
			config.raceExitCode = n
			continue
		}

		// Handle flags (starts with -)
		if strings.HasPrefix(arg, "-") {
			// It's a build flag - pass through to go build
			config.buildFlags = append(config.buildFlags, arg)

			// Check if this flag expects a value (next arg will be consumed)
			expectingValue = needsValue(arg)
			continue
		}

		// No dash prefix - it's a source file
		// Check if it's a .go file or directory
		if strings.HasSuffix(arg, ".go") || arg == "." || arg == ".." {
			config.sourceFiles = append(config.sourceFiles, arg)
		} else {
			// Could be a package path or directory
			config.sourceFiles = append(config.sourceFiles, arg)
		}
	}

	// Default: build current directory if no sources specified
	if len(config.sourceFiles) == 0 {
		config.sourceFiles = []string{"."}
	}

	return config, nil
}

// needsValue returns true if the flag expects a following value.
func needsValue(flag string) bool {
	// Flags that take values
	valueFlags := []string{
		"-ldflags", "-gcflags", "-asmflags", "-gccgoflags",
		"-tags", "-installsuffix", "-buildmode", "-mod",
		"-modfile", "-overlay", "-pkgdir", "-toolexec",
	}

	for _, vf := range valueFlags {
		// Already has = format (e.g., -ldflags=-s)
		if strings.HasPrefix(flag, vf+"=") {
			return false
		}
		// Exact match - needs next arg
		if flag == vf {
			return true
		}
	}

	return false
}

// workspace represents a temporary workspace for instrumented code.
type workspace struct {
	// Root directory of workspace
	dir string

	// Source directory (where instrumented .go files go)
	srcDir string

	// originalSourceDir is the directory of the code being instrumented,
	// used to locate its go.mod for replace-directive preservation (see
	// runtime.ModFileOverlay). The build, run and test commands each set
	// it to their config's workDir right after creating the workspace.
	originalSourceDir string
}

// createWorkspace creates a temporary workspace for building instrumented code.
func createWorkspace() (*workspace, error) {
	// Create temp directory
	dir, err := os.MkdirTemp("", "racedetector-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Create src subdirectory
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		_ = os.RemoveAll(dir) // Cleanup on error, ignore removal errors
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}

	return &workspace{
		dir:    dir,
		srcDir: srcDir,
	}, nil
}

// cleanup removes the temporary workspace.
func (w *workspace) cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir) // Best effort cleanup, ignore errors
	}
}

// setupRuntimeLinking creates go.mod overlay for runtime linking.
func (w *workspace) setupRuntimeLinking() error {
	// Create go.mod overlay in workspace
	overlayPath, err := runtime.ModFileOverlay(w.dir, w.originalSourceDir)
	if err != nil {
		return fmt.Errorf("failed to create go.mod overlay: %w", err)
	}

	// If overlay was created, rename it to go.mod and tidy
	if overlayPath != "" {
		goModPath := filepath.Join(w.dir, "go.mod")
		if err := os.Rename(overlayPath, goModPath); err != nil {
			return fmt.Errorf("failed to setup go.mod: %w", err)
		}

		// Run go mod tidy to update dependencies
		tidyCmd := exec.Command("go", "mod", "tidy")
		tidyCmd.Dir = w.dir // go.mod is in workspace root, not src/
		tidyCmd.Stdout = os.Stdout
		tidyCmd.Stderr = os.Stderr
		if err := tidyCmd.Run(); err != nil {
			return fmt.Errorf("failed to tidy go.mod: %w", err)
		}
	}

	return nil
}

// build runs 'go build' on the instrumented code in the workspace.
func (w *workspace) build(config *buildConfig) error {
	// Prepare go build command
	args := []string{"build"}

	// Add output file if specified
	if config.outputFile != "" {
		// Make output path absolute
		outputPath := config.outputFile
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(config.workDir, outputPath)
		}
		args = append(args, "-o", outputPath)
	}

	// Add user-specified build flags
	args = append(args, config.buildFlags...)

	// Add runtime build flags
	runtimeFlags := runtime.BuildFlags()
	args = append(args, runtimeFlags...)

	// Build from workspace src directory
	args = append(args, ".")

	// Run go build
	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// instrumentSources instruments all source files and writes them to workspace.
func instrumentSources(config *buildConfig, workspace *workspace) error {
	// Collect all .go files to instrument
	goFiles, err := collectGoFiles(config.sourceFiles, config.workDir)
	if err != nil {
		return fmt.Errorf("failed to collect source files: %w", err)
	}

	if len(goFiles) == 0 {
		return fmt.Errorf("no Go source files found")
	}

	// Instrument each file
	for _, srcPath := range goFiles {
		// Instrument the file
		result, err := instrument.InstrumentFile(srcPath, nil)
		if err != nil {
			return fmt.Errorf("failed to instrument %s: %w", srcPath, err)
		}

		// Determine output path in workspace
		// Use just the filename (flatten directory structure for simplicity)
		outPath := filepath.Join(workspace.srcDir, filepath.Base(srcPath))

		// Write instrumented code to workspace
		if err := os.WriteFile(outPath, []byte(result.Code), 0644); err != nil {
			return fmt.Errorf("failed to write instrumented file %s: %w", outPath, err)
		}

		// Print instrumentation info
		fmt.Printf("Instrumented: %s -> %s\n", srcPath, outPath)

		// If verbose, print statistics
		if config.verbose {
			stats := result.Stats
			fmt.Printf("  - %d writes instrumented\n", stats.WritesInstrumented)
			fmt.Printf("  - %d reads instrumented\n", stats.ReadsInstrumented)
			if stats.TotalSkipped() > 0 {
				fmt.Printf("  - %d items skipped (%d constants, %d built-ins, %d literals, %d blanks)\n",
					stats.TotalSkipped(),
					stats.ConstantsSkipped,
					stats.BuiltinsSkipped,
					stats.LiteralsSkipped,
					stats.BlanksSkipped,
				)
			}
			fmt.Printf("  Total: %d race detection calls inserted\n", stats.Total())
		}
	}

	return nil
}

// collectGoFiles finds all .go files from the given sources.
//
// Sources can be:
//   - .go files directly
//   - directories (scans for .go files)
//   - "." for current directory
func collectGoFiles(sources []string, workDir string) ([]string, error) {
	var goFiles []string

	for _, src := range sources {
		// Make path absolute
		srcPath := src
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(workDir, src)
		}

		// Check if it's a file or directory
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", src, err)
		}

		if info.IsDir() {
			// Scan directory for .go files
			entries, err := os.ReadDir(srcPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read directory %s: %w", srcPath, err)
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}

				name := entry.Name()
				// Include only .go files (exclude _test.go for build)
				if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
					fullPath := filepath.Join(srcPath, name)
					goFiles = append(goFiles, fullPath)
				}
			}
		} else {
			// It's a file - check if it's a .go file
			if strings.HasSuffix(srcPath, ".go") {
				goFiles = append(goFiles, srcPath)
			}
		}
	}

	return goFiles, nil
}

// raceOptionsEnv renders config's -race.ignore/-race.exitcode flags as a
// RACE_OPTIONS environment line for an instrumented binary to read at its
// own startup (internal/race/config.FromEnv). Empty if neither flag was
// given.
func (c *buildConfig) raceOptionsEnv() string {
	opts := config.Options{
		IgnoreFile: c.raceIgnoreFile,
		ExitCode:   c.raceExitCode,
	}
	s := opts.String()
	if s == "" {
		return ""
	}
	return "RACE_OPTIONS=" + s
}
