package fs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"svld/internal/svld"
)

// runFunc runs an external command and returns its exit code and combined
// output. A non-nil error with exit code -1 means the command did not run.
type runFunc func(ctx context.Context, name string, args ...string) (int, []byte, error)

func runCommand(ctx context.Context, name string, args ...string) (int, []byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), out, nil
		}
		return -1, out, err
	}
	return 0, out, nil
}

// RobocopyStrategy copies with the Windows robocopy tool.
type RobocopyStrategy struct {
	logger   svld.Logger
	goos     string
	lookPath func(string) (string, error)
	run      runFunc
}

func NewRobocopyStrategy(logger svld.Logger) *RobocopyStrategy {
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &RobocopyStrategy{logger: logger, goos: runtime.GOOS, lookPath: exec.LookPath, run: runCommand}
}

func (*RobocopyStrategy) Name() string { return "robocopy" }

// Copy runs robocopy with 8 threads, 3 retries and directory timestamps
// preserved. Symbolic links are copied as links (/SL) and junctions are
// skipped (/XJ), so the copy holds the same regular files and directories
// the walker sees. Exit codes below 8 mean success.
func (r *RobocopyStrategy) Copy(ctx context.Context, src, dst string) error {
	if r.goos != "windows" {
		return ErrStrategyUnavailable
	}
	bin, err := r.lookPath("robocopy")
	if err != nil {
		return ErrStrategyUnavailable
	}

	code, out, err := r.run(ctx, bin, src, dst, "/E", "/MT:8", "/R:3", "/W:1", "/NFL", "/NDL", "/NP", "/DCOPY:T", "/SL", "/XJ")
	if err != nil {
		return fmt.Errorf("running robocopy: %w", err)
	}
	if code >= 8 {
		return fmt.Errorf("robocopy exited with code %d: %s", code, lastLine(out))
	}
	r.logger.Debug("robocopy finished", "code", code)
	return nil
}

// rsyncPartialVanished is rsync's exit code for source files that vanished
// while copying.
const rsyncPartialVanished = 24

// RsyncStrategy copies with rsync when it is installed.
type RsyncStrategy struct {
	logger   svld.Logger
	lookPath func(string) (string, error)
	run      runFunc
}

func NewRsyncStrategy(logger svld.Logger) *RsyncStrategy {
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &RsyncStrategy{logger: logger, lookPath: exec.LookPath, run: runCommand}
}

func (*RsyncStrategy) Name() string { return "rsync" }

// Copy runs rsync in archive mode without links or special files.
func (r *RsyncStrategy) Copy(ctx context.Context, src, dst string) error {
	bin, err := r.lookPath("rsync")
	if err != nil {
		return ErrStrategyUnavailable
	}

	code, out, err := r.run(ctx, bin, "-a", "--no-links", "--no-devices", "--no-specials",
		withTrailingSep(src), withTrailingSep(dst))
	if err != nil {
		return fmt.Errorf("running rsync: %w", err)
	}
	switch code {
	case 0:
		return nil
	case rsyncPartialVanished:
		r.logger.Warn("rsync reported vanished source files", "src", src)
		return nil
	default:
		return fmt.Errorf("rsync exited with code %d: %s", code, lastLine(out))
	}
}

func withTrailingSep(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// StrategiesFromNames builds strategies in the given order. An empty list
// selects the platform default.
func StrategiesFromNames(names []string, walker *Walker, logger svld.Logger) ([]Strategy, error) {
	if len(names) == 0 {
		names = defaultStrategyNames
	}
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		switch name {
		case "robocopy":
			strategies = append(strategies, NewRobocopyStrategy(logger))
		case "rsync":
			strategies = append(strategies, NewRsyncStrategy(logger))
		case "native":
			strategies = append(strategies, NewNativeStrategy(walker, logger))
		default:
			return nil, fmt.Errorf("unknown copy strategy: %s", name)
		}
	}
	return strategies, nil
}
