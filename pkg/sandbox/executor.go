package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/logger"
	"github.com/openskills/openskills/pkg/skills"
)

// Remote filesystem layout used by the executor.
const (
	WorkspaceDir     = "/workspace"
	RemoteScriptsDir = WorkspaceDir + "/scripts"
	RemoteUploadsDir = WorkspaceDir + "/uploads"
)

// remoteInterpreters maps script extensions to the remote launcher command.
// Unknown extensions are rejected before any upload happens.
var remoteInterpreters = map[string]string{
	".py":   "python3",
	".sh":   "bash",
	".bash": "bash",
	".js":   "node",
}

// Executor runs skill scripts inside a sandbox. It composes the protocol
// Client with skill-level concerns: one-time environment setup, script
// upload, and remote command assembly.
type Executor struct {
	client    *Client
	events    Events
	sessionID string
	timeout   time.Duration
	ready     bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEvents injects a lifecycle observer.
func WithEvents(events Events) ExecutorOption {
	return func(e *Executor) { e.events = events }
}

// WithExecTimeout sets the default remote execution timeout.
func WithExecTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// NewExecutor creates an executor bound to a client. Init must be called
// before use.
func NewExecutor(client *Client, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:    client,
		events:    NopEvents{},
		sessionID: uuid.NewString(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Client exposes the underlying protocol client for file sync operations.
func (e *Executor) Client() *Client { return e.client }

// SessionID returns the executor's session identifier.
func (e *Executor) SessionID() string { return e.sessionID }

// Init provisions the remote workspace and emits the startup lifecycle
// events.
func (e *Executor) Init(ctx context.Context) error {
	e.events.Initializing()
	e.events.Authenticating(e.sessionID)

	if err := e.client.MkDir(ctx, RemoteScriptsDir); err != nil {
		return errors.Wrap(err, "failed to initialize sandbox workspace")
	}

	e.events.ResourceAllocated(WorkspaceDir)
	return nil
}

// Close tears down the remote session. Errors are logged, not returned, so
// cleanup never masks an execution failure.
func (e *Executor) Close(ctx context.Context) {
	if err := e.client.DeleteSession(ctx, e.sessionID); err != nil {
		logger.G(ctx).WithError(err).Debug("failed to delete sandbox session")
	}
	e.ready = false
}

// SetupEnvironment installs the skill's declared packages and runs its shell
// setup commands. Each step aborts the remaining setup on non-zero exit.
func (e *Executor) SetupEnvironment(ctx context.Context, dep skills.Dependency) error {
	if len(dep.Python) > 0 {
		e.events.InstallingDependencies(dep.Python)
		result, err := e.client.InstallPackages(ctx, dep.Python)
		if err != nil {
			return errors.Wrap(err, "failed to install packages")
		}
		if err := result.Err(); err != nil {
			return errors.Wrap(err, "package installation failed")
		}
	}

	for _, cmd := range dep.System {
		e.events.Progress("running setup command: " + cmd)
		result, err := e.client.ExecCommand(ctx, cmd, ExecOptions{WorkDir: WorkspaceDir})
		if err != nil {
			return errors.Wrapf(err, "setup command failed: %s", cmd)
		}
		if err := result.Err(); err != nil {
			return errors.Wrapf(err, "setup command failed: %s", cmd)
		}
	}

	e.MarkReady()
	return nil
}

// MarkReady marks the environment provisioned, emitting Ready exactly once.
func (e *Executor) MarkReady() {
	if !e.ready {
		e.ready = true
		e.events.Ready()
	}
}

// Ready reports whether the environment has been provisioned.
func (e *Executor) Ready() bool { return e.ready }

// UploadScript copies a local script into the remote scripts directory and
// returns the remote path.
func (e *Executor) UploadScript(ctx context.Context, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", errors.Wrap(err, "script not found")
	}

	remotePath := RemoteScriptsDir + "/" + filepath.Base(localPath)
	if err := e.client.UploadFile(ctx, remotePath, content); err != nil {
		return "", errors.Wrap(err, "failed to upload script")
	}
	return remotePath, nil
}

// UploadLocalFile copies an arbitrary local file into the remote uploads
// directory and returns the remote path. Used to rewrite local paths in
// script payloads before execution.
func (e *Executor) UploadLocalFile(ctx context.Context, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to read local file")
	}

	if err := e.client.MkDir(ctx, RemoteUploadsDir); err != nil {
		return "", err
	}

	remotePath := RemoteUploadsDir + "/" + filepath.Base(localPath)
	if err := e.client.UploadFile(ctx, remotePath, content); err != nil {
		return "", errors.Wrap(err, "failed to upload file")
	}
	return remotePath, nil
}

// ExecuteOptions configures a remote script run.
type ExecuteOptions struct {
	Timeout time.Duration
	Args    []string
	Input   string
	WorkDir string
}

// Execute uploads a local script and runs it remotely, returning its output.
// Input is piped to stdin through shell redirection with quote escaping.
func (e *Executor) Execute(ctx context.Context, scriptPath string, opts ExecuteOptions) (string, error) {
	ext := strings.ToLower(filepath.Ext(scriptPath))
	interpreter, ok := remoteInterpreters[ext]
	if !ok {
		return "", errors.Errorf("unsupported script type: %s", ext)
	}

	remotePath, err := e.UploadScript(ctx, scriptPath)
	if err != nil {
		return "", err
	}

	parts := append([]string{interpreter, remotePath}, opts.Args...)
	command := strings.Join(parts, " ")
	if opts.Input != "" {
		command = "echo " + shellQuote(opts.Input) + " | " + command
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = WorkspaceDir
	}

	name := filepath.Base(scriptPath)
	e.events.ScriptStarted(name)

	result, err := e.client.ExecCommand(ctx, command, ExecOptions{
		Timeout: opts.Timeout,
		WorkDir: workDir,
		Session: e.sessionID,
	})
	if err != nil {
		e.events.ScriptCompleted(name, err)
		return "", err
	}
	if err := result.Err(); err != nil {
		e.events.ScriptCompleted(name, err)
		return "", err
	}

	e.events.ScriptCompleted(name, nil)
	return result.Stdout, nil
}
