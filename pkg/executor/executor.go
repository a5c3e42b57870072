// Package executor runs skill scripts as local subprocesses with timeout
// enforcement, output capping, and environment scrubbing.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/logger"
)

// SandboxEnvMarker announces a restricted environment to the child process.
const SandboxEnvMarker = "OPENSKILLS_SANDBOX"

// DefaultMaxOutputSize caps combined script output at 1 MiB.
const DefaultMaxOutputSize = 1024 * 1024

// truncationMarker is appended when output exceeds the cap; output is never
// silently dropped.
const truncationMarker = "\n... (output truncated)"

// interpreters maps file extensions to launcher commands. Unknown extensions
// fail fast; execution is never attempted with a guessed interpreter.
var interpreters = map[string][]string{
	".py":   {"python3"},
	".sh":   {"bash"},
	".bash": {"bash"},
	".js":   {"node"},
	".ts":   {"npx", "ts-node"},
}

// sensitiveEnvVars are removed from the child environment when a restricted
// run is requested.
var sensitiveEnvVars = []string{
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"DATABASE_URL",
	"DB_PASSWORD",
}

// ExecutionError reports a script that ran but exited non-zero.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script failed with exit code %d", e.ExitCode)
}

// TimeoutError reports a script killed for exceeding its wall-clock limit.
// Distinct from ExecutionError so callers can tell a hang from a failure.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script execution timed out after %s", e.Timeout)
}

// UnsupportedTypeError reports a script extension outside the interpreter
// allow-list.
type UnsupportedTypeError struct {
	Extension string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported script type: %s", e.Extension)
}

// Options configures a single execution.
type Options struct {
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
	// Args are appended to the interpreter command line.
	Args []string
	// Env adds variables on top of the inherited environment.
	Env map[string]string
	// Input is piped to stdin when non-empty.
	Input string
	// Restricted scrubs credential variables and sets the sandbox marker.
	Restricted bool
}

// Executor runs scripts as child processes.
type Executor struct {
	defaultTimeout time.Duration
	maxOutputSize  int
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout sets the timeout applied when Options.Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithMaxOutputSize sets the combined output cap in bytes.
func WithMaxOutputSize(n int) Option {
	return func(e *Executor) { e.maxOutputSize = n }
}

// New creates an Executor with 30s default timeout and a 1 MiB output cap.
func New(opts ...Option) *Executor {
	e := &Executor{
		defaultTimeout: 30 * time.Second,
		maxOutputSize:  DefaultMaxOutputSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the script and returns its stdout. The interpreter is chosen
// strictly by file extension.
func (e *Executor) Execute(ctx context.Context, scriptPath string, opts Options) (string, error) {
	if _, err := os.Stat(scriptPath); err != nil {
		return "", errors.Wrap(err, "script not found")
	}

	ext := strings.ToLower(filepath.Ext(scriptPath))
	launcher, ok := interpreters[ext]
	if !ok {
		return "", &UnsupportedTypeError{Extension: ext}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, launcher[1:]...), scriptPath)
	args = append(args, opts.Args...)
	cmd := exec.CommandContext(ctx, launcher[0], args...)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = buildEnv(opts.Env, opts.Restricted)

	if opts.Input != "" {
		cmd.Stdin = strings.NewReader(opts.Input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.G(ctx).WithField("script", filepath.Base(scriptPath)).Debug("executing script")

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &TimeoutError{Timeout: timeout}
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &ExecutionError{ExitCode: exitCode, Stderr: stderr.String()}
	}

	output := stdout.String()
	if len(output) > e.maxOutputSize {
		output = output[:e.maxOutputSize] + truncationMarker
	}

	return output, nil
}

// buildEnv assembles the child environment: the inherited process
// environment, extra variables, and, for restricted runs, the credential
// denylist removed plus the sandbox marker set.
func buildEnv(extra map[string]string, restricted bool) []string {
	denied := make(map[string]bool, len(sensitiveEnvVars))
	if restricted {
		for _, name := range sensitiveEnvVars {
			denied[name] = true
		}
	}

	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if denied[name] {
			continue
		}
		if _, shadowed := extra[name]; shadowed {
			continue
		}
		env = append(env, kv)
	}
	for name, value := range extra {
		if denied[name] {
			continue
		}
		env = append(env, name+"="+value)
	}
	if restricted {
		env = append(env, SandboxEnvMarker+"=1")
	}

	return env
}
