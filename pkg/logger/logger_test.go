package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerFallback(t *testing.T) {
	ctx := context.Background()
	entry := GetLogger(ctx)
	require.NotNil(t, entry)
	assert.Equal(t, L.Logger, entry.Logger)
}

func TestWithLogger(t *testing.T) {
	custom := logrus.NewEntry(logrus.New()).WithField("session", "abc")
	ctx := WithLogger(context.Background(), custom)

	got := GetLogger(ctx)
	assert.Equal(t, "abc", got.Data["session"])
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("not-a-level"))

	require.NoError(t, SetLogLevel("info"))
}

func TestJSONFormat(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	setFormat(l, "json")

	l.WithField("skill", "meeting-summary").Info("selected")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "selected", record["message"])
	assert.Equal(t, "meeting-summary", record["skill"])
}
