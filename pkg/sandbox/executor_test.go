package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openskills/openskills/pkg/skills"
)

// recordingSandbox accepts everything and records commands and uploads.
type recordingSandbox struct {
	server   *httptest.Server
	commands []string
	uploads  map[string]string
}

func newRecordingSandbox(t *testing.T) *recordingSandbox {
	t.Helper()
	rs := &recordingSandbox{uploads: map[string]string{}}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)

		switch r.URL.Path {
		case "/v1/shell/exec":
			rs.commands = append(rs.commands, payload["command"].(string))
		case "/v1/file/upload":
			rs.uploads[payload["file"].(string)] = payload["content"].(string)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data":    map[string]any{"exit_code": 0, "output": "done\n"},
			"success": true,
		})
	}))
	t.Cleanup(rs.server.Close)
	return rs
}

func TestExecutorExecute(t *testing.T) {
	rs := newRecordingSandbox(t)
	e := NewExecutor(NewClient(rs.server.URL))
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))

	scriptPath := filepath.Join(t.TempDir(), "extract.py")
	require.NoError(t, os.WriteFile(scriptPath, []byte("print('hi')\n"), 0o644))

	out, err := e.Execute(ctx, scriptPath, ExecuteOptions{
		Input: `{"file": "doc.pdf"}`,
		Args:  []string{"--fast"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done\n", out)

	remotePath := RemoteScriptsDir + "/extract.py"
	assert.Equal(t, "print('hi')\n", rs.uploads[remotePath])

	last := rs.commands[len(rs.commands)-1]
	assert.Equal(t, `echo '{"file": "doc.pdf"}' | python3 `+remotePath+` --fast`, last)
}

func TestExecutorExecuteUnsupportedType(t *testing.T) {
	rs := newRecordingSandbox(t)
	e := NewExecutor(NewClient(rs.server.URL))

	scriptPath := filepath.Join(t.TempDir(), "script.rb")
	require.NoError(t, os.WriteFile(scriptPath, []byte("puts 1\n"), 0o644))

	_, err := e.Execute(context.Background(), scriptPath, ExecuteOptions{})
	require.Error(t, err)
	assert.Empty(t, rs.uploads, "nothing is uploaded for rejected script types")
}

func TestExecutorSetupEnvironment(t *testing.T) {
	rs := newRecordingSandbox(t)
	e := NewExecutor(NewClient(rs.server.URL))
	ctx := context.Background()

	dep := skills.Dependency{
		Python: []string{"pypdf"},
		System: []string{"apt-get install -y poppler-utils"},
	}
	require.NoError(t, e.SetupEnvironment(ctx, dep))
	assert.True(t, e.Ready())

	joined := strings.Join(rs.commands, "\n")
	assert.Contains(t, joined, "pip install 'pypdf'")
	assert.Contains(t, joined, "apt-get install -y poppler-utils")
}

func TestExecutorUploadLocalFile(t *testing.T) {
	rs := newRecordingSandbox(t)
	e := NewExecutor(NewClient(rs.server.URL))

	local := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(local, []byte("a,b\n1,2\n"), 0o644))

	remote, err := e.UploadLocalFile(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, RemoteUploadsDir+"/input.csv", remote)
	assert.Equal(t, "a,b\n1,2\n", rs.uploads[remote])
}

func TestExecutorReadyOnce(t *testing.T) {
	rs := newRecordingSandbox(t)

	var readyCount int
	events := &countingEvents{onReady: func() { readyCount++ }}
	e := NewExecutor(NewClient(rs.server.URL), WithEvents(events))

	e.MarkReady()
	e.MarkReady()
	assert.Equal(t, 1, readyCount)
}

type countingEvents struct {
	NopEvents
	onReady func()
}

func (c *countingEvents) Ready() { c.onReady() }
