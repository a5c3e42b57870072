package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSandbox serves the envelope protocol with per-endpoint handlers.
func fakeSandbox(t *testing.T, handlers map[string]func(payload map[string]any) (any, bool, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		var payload map[string]any
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&payload)
		}

		data, success, message := handler(payload)
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]any{
			"data":    json.RawMessage(raw),
			"success": success,
			"message": message,
		})
	}))
}

func TestExecCommand(t *testing.T) {
	server := fakeSandbox(t, map[string]func(map[string]any) (any, bool, string){
		"/v1/shell/exec": func(payload map[string]any) (any, bool, string) {
			assert.Equal(t, "echo hi", payload["command"])
			assert.Equal(t, "/workspace", payload["workdir"])
			return map[string]any{"exit_code": 0, "output": "hi\n"}, true, ""
		},
	})
	defer server.Close()

	c := NewClient(server.URL)
	result, err := c.ExecCommand(context.Background(), "echo hi", ExecOptions{WorkDir: "/workspace"})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "hi\n", result.Stdout)
	assert.NoError(t, result.Err())
}

func TestExecCommandFailure(t *testing.T) {
	server := fakeSandbox(t, map[string]func(map[string]any) (any, bool, string){
		"/v1/shell/exec": func(map[string]any) (any, bool, string) {
			return map[string]any{"exit_code": 2, "stderr": "no such file"}, true, ""
		},
	})
	defer server.Close()

	c := NewClient(server.URL)
	result, err := c.ExecCommand(context.Background(), "cat missing", ExecOptions{})
	require.NoError(t, err)

	var eerr *ExecutionError
	require.ErrorAs(t, result.Err(), &eerr)
	assert.Equal(t, 2, eerr.ExitCode)
	assert.Equal(t, "no such file", eerr.Stderr)
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data": {"exit_code": 0, "output": "ok"}, "success": true}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	result, err := c.ExecCommand(context.Background(), "true", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostDoesNotRetryAPIErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data": null, "success": false, "message": "unknown session"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.ExecCommand(context.Background(), "true", ExecOptions{})

	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "unknown session", eerr.Message)
	assert.Equal(t, int32(1), calls.Load(), "API rejections are not transient")
}

func TestPostConnectivityError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.ExecCommand(context.Background(), "true", ExecOptions{})

	var cerr *ConnectivityError
	require.ErrorAs(t, err, &cerr)
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sandbox", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.True(t, NewClient(server.URL).HealthCheck(context.Background()))
	assert.False(t, NewClient("http://127.0.0.1:1").HealthCheck(context.Background()))
}

func TestFileOperations(t *testing.T) {
	files := map[string]string{}
	server := fakeSandbox(t, map[string]func(map[string]any) (any, bool, string){
		"/v1/file/upload": func(payload map[string]any) (any, bool, string) {
			files[payload["file"].(string)] = payload["content"].(string)
			return nil, true, ""
		},
		"/v1/file/download": func(payload map[string]any) (any, bool, string) {
			content, ok := files[payload["file"].(string)]
			if !ok {
				return nil, false, "file not found"
			}
			return map[string]any{"content": content}, true, ""
		},
		"/v1/file/list": func(map[string]any) (any, bool, string) {
			return map[string]any{"files": []map[string]any{
				{"name": "out.csv", "path": "/workspace/output/out.csv", "is_dir": false, "size": 12},
			}}, true, ""
		},
	})
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	require.NoError(t, c.UploadFile(ctx, "/workspace/uploads/in.txt", []byte("payload")))

	data, err := c.DownloadFile(ctx, "/workspace/uploads/in.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = c.DownloadFile(ctx, "/workspace/missing")
	var eerr *ExecutionError
	require.ErrorAs(t, err, &eerr)

	entries, err := c.ListFiles(ctx, "/workspace/output")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.csv", entries[0].Name)
	assert.False(t, entries[0].IsDir)
}

func TestInstallPackagesQuoting(t *testing.T) {
	server := fakeSandbox(t, map[string]func(map[string]any) (any, bool, string){
		"/v1/shell/exec": func(payload map[string]any) (any, bool, string) {
			assert.Equal(t, `pip install 'pypdf' 'pillow>=9.0'`, payload["command"])
			return map[string]any{"exit_code": 0}, true, ""
		},
	})
	defer server.Close()

	c := NewClient(server.URL)
	result, err := c.InstallPackages(context.Background(), []string{"pypdf", "pillow>=9.0"})
	require.NoError(t, err)
	assert.True(t, result.Success())
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
	assert.Equal(t, `'{"k": "v"}'`, shellQuote(`{"k": "v"}`))
}
