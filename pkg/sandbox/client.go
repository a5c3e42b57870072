// Package sandbox talks to a remote execution environment over HTTP. The
// Client is a stateless protocol wrapper; the Executor layers skill-level
// concerns (dependency setup, script upload, command assembly) on top; the
// Manager pools Executors under a reuse strategy.
//
// Every API response arrives wrapped in a {data, success} envelope.
// Connectivity failures are reported as *ConnectivityError, distinct from
// *ExecutionError, so callers can tell "your script failed" from "we could
// not even reach the sandbox".
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/logger"
)

const (
	// DefaultTimeout applies to regular API calls.
	DefaultTimeout = 120 * time.Second
	// healthCheckTimeout is deliberately short and fixed; health probes must
	// not inherit the long per-call timeout.
	healthCheckTimeout = 5 * time.Second
	// maxRetries bounds the backoff retry on transient failures.
	maxRetries = 3
)

// ConnectivityError indicates the sandbox could not be reached at all.
type ConnectivityError struct {
	BaseURL string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot connect to sandbox at %s: %v", e.BaseURL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ExecutionError indicates a command or file operation that the sandbox
// accepted but which failed.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Message  string
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("sandbox command failed with exit code %d", e.ExitCode)
}

// CommandResult is the outcome of a remote command execution.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited zero.
func (r CommandResult) Success() bool { return r.ExitCode == 0 }

// Err returns an *ExecutionError for a failed command, nil otherwise.
func (r CommandResult) Err() error {
	if r.Success() {
		return nil
	}
	return &ExecutionError{ExitCode: r.ExitCode, Stderr: r.Stderr}
}

// FileInfo describes a remote file or directory.
type FileInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FileMatch is one hit from a content search.
type FileMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SessionInfo describes a remote session.
type SessionInfo struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// envelope is the wire wrapper around every response body.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
}

// Client is a stateless HTTP wrapper around the sandbox API.
type Client struct {
	baseURL string
	httpc   *http.Client
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a sandbox client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// post sends a JSON request and decodes the envelope, retrying transient
// failures (connection errors, 5xx, 429) with bounded exponential backoff.
func (c *Client) post(ctx context.Context, endpoint string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	var data json.RawMessage
	err = retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to create request"))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpc.Do(req)
			if err != nil {
				return &ConnectivityError{BaseURL: c.baseURL, Err: err}
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return &ConnectivityError{BaseURL: c.baseURL, Err: err}
			}

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return errors.Errorf("sandbox returned status %d: %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(&ExecutionError{
					ExitCode: -1,
					Message:  fmt.Sprintf("sandbox request %s failed with status %d: %s", endpoint, resp.StatusCode, string(respBody)),
				})
			}

			var env envelope
			if err := json.Unmarshal(respBody, &env); err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to decode sandbox response"))
			}
			if !env.Success {
				return retry.Unrecoverable(&ExecutionError{ExitCode: -1, Message: env.Message})
			}

			data = env.Data
			return nil
		},
		retry.Attempts(maxRetries),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Debug("retrying sandbox request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// HealthCheck probes the sandbox with a short fixed timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sandbox", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ExecOptions configures a remote command execution.
type ExecOptions struct {
	Timeout time.Duration
	WorkDir string
	// Session names a persistent shell session; commands sharing a session
	// keep shell state between calls.
	Session string
}

// ExecCommand runs a shell command in the sandbox.
func (c *Client) ExecCommand(ctx context.Context, command string, opts ExecOptions) (CommandResult, error) {
	payload := map[string]any{"command": command}
	if opts.WorkDir != "" {
		payload["workdir"] = opts.WorkDir
	}
	if opts.Session != "" {
		payload["session"] = opts.Session
	}

	data, err := c.post(ctx, "/v1/shell/exec", payload, opts.Timeout)
	if err != nil {
		return CommandResult{}, err
	}

	var result struct {
		ExitCode int    `json:"exit_code"`
		Output   string `json:"output"`
		Stderr   string `json:"stderr"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return CommandResult{}, errors.Wrap(err, "failed to decode command result")
	}

	return CommandResult{ExitCode: result.ExitCode, Stdout: result.Output, Stderr: result.Stderr}, nil
}

// RunCode executes a snippet directly without uploading a file.
func (c *Client) RunCode(ctx context.Context, language, code string, timeout time.Duration) (string, error) {
	data, err := c.post(ctx, "/v1/code/run", map[string]any{
		"language": language,
		"code":     code,
	}, timeout)
	if err != nil {
		return "", err
	}

	var result struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", errors.Wrap(err, "failed to decode code result")
	}
	return result.Output, nil
}

// ReadFile reads a text file from the sandbox filesystem.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	data, err := c.post(ctx, "/v1/file/read", map[string]any{"file": path}, 0)
	if err != nil {
		return "", err
	}

	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", errors.Wrap(err, "failed to decode file content")
	}
	return result.Content, nil
}

// WriteFile writes a text file to the sandbox filesystem.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	_, err := c.post(ctx, "/v1/file/write", map[string]any{
		"file":    path,
		"content": content,
	}, 0)
	return err
}

// ListFiles lists the entries under a sandbox path.
func (c *Client) ListFiles(ctx context.Context, path string) ([]FileInfo, error) {
	data, err := c.post(ctx, "/v1/file/list", map[string]any{"path": path}, 0)
	if err != nil {
		return nil, err
	}

	var result struct {
		Files []FileInfo `json:"files"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode file list")
	}
	return result.Files, nil
}

// FindFiles returns paths under dir whose names match the glob pattern.
func (c *Client) FindFiles(ctx context.Context, dir, pattern string) ([]string, error) {
	data, err := c.post(ctx, "/v1/file/find", map[string]any{
		"path":    dir,
		"pattern": pattern,
	}, 0)
	if err != nil {
		return nil, err
	}

	var result struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode find result")
	}
	return result.Paths, nil
}

// SearchFiles greps file contents under dir.
func (c *Client) SearchFiles(ctx context.Context, dir, query string) ([]FileMatch, error) {
	data, err := c.post(ctx, "/v1/file/search", map[string]any{
		"path":  dir,
		"query": query,
	}, 0)
	if err != nil {
		return nil, err
	}

	var result struct {
		Matches []FileMatch `json:"matches"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode search result")
	}
	return result.Matches, nil
}

// UploadFile uploads raw bytes to a sandbox path.
func (c *Client) UploadFile(ctx context.Context, path string, content []byte) error {
	_, err := c.post(ctx, "/v1/file/upload", map[string]any{
		"file":    path,
		"content": string(content),
	}, 0)
	return err
}

// DownloadFile fetches raw bytes from a sandbox path.
func (c *Client) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := c.post(ctx, "/v1/file/download", map[string]any{"file": path}, 0)
	if err != nil {
		return nil, err
	}

	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode download result")
	}
	return []byte(result.Content), nil
}

// MkDir creates a directory (with parents) in the sandbox.
func (c *Client) MkDir(ctx context.Context, path string) error {
	result, err := c.ExecCommand(ctx, "mkdir -p "+shellQuote(path), ExecOptions{})
	if err != nil {
		return err
	}
	return result.Err()
}

// InstallPackages installs python packages via pip.
func (c *Client) InstallPackages(ctx context.Context, packages []string) (CommandResult, error) {
	if len(packages) == 0 {
		return CommandResult{}, nil
	}
	quoted := make([]string, len(packages))
	for i, pkg := range packages {
		quoted[i] = shellQuote(pkg)
	}
	return c.ExecCommand(ctx, "pip install "+strings.Join(quoted, " "), ExecOptions{})
}

// CreateSession creates a named persistent shell session.
func (c *Client) CreateSession(ctx context.Context, id string) (SessionInfo, error) {
	data, err := c.post(ctx, "/v1/session/create", map[string]any{"id": id}, 0)
	if err != nil {
		return SessionInfo{}, err
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SessionInfo{}, errors.Wrap(err, "failed to decode session info")
	}
	return info, nil
}

// GetSession fetches a session's state.
func (c *Client) GetSession(ctx context.Context, id string) (SessionInfo, error) {
	data, err := c.post(ctx, "/v1/session/get", map[string]any{"id": id}, 0)
	if err != nil {
		return SessionInfo{}, err
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SessionInfo{}, errors.Wrap(err, "failed to decode session info")
	}
	return info, nil
}

// DeleteSession tears down a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.post(ctx, "/v1/session/delete", map[string]any{"id": id}, 0)
	return err
}

// TerminalURL returns a browser URL for interactive access to a session.
func (c *Client) TerminalURL(ctx context.Context, sessionID string) (string, error) {
	data, err := c.post(ctx, "/v1/session/terminal", map[string]any{"id": sessionID}, 0)
	if err != nil {
		return "", err
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", errors.Wrap(err, "failed to decode terminal url")
	}
	if _, err := url.Parse(result.URL); err != nil {
		return "", errors.Wrap(err, "sandbox returned invalid terminal url")
	}
	return result.URL, nil
}

// shellQuote single-quotes a string for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
