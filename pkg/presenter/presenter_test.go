package presenter

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openskills/openskills/pkg/llm"
)

func TestNew(t *testing.T) {
	presenter := New()
	assert.NotNil(t, presenter)
	assert.Equal(t, os.Stdout, presenter.output)
	assert.Equal(t, os.Stderr, presenter.errorOutput)
	assert.False(t, presenter.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name      string
		noColor   string
		skillsCol string
		expected  ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"auto", "", "auto", ColorAuto},
		{"default", "", "", ColorAuto},
		{"invalid", "", "invalid", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("NO_COLOR")
			os.Unsetenv("OPENSKILLS_COLOR")

			if tt.noColor != "" {
				t.Setenv("NO_COLOR", tt.noColor)
			}
			if tt.skillsCol != "" {
				t.Setenv("OPENSKILLS_COLOR", tt.skillsCol)
			}

			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	var errorOutput bytes.Buffer
	presenter := NewWithOptions(nil, &errorOutput, ColorNever)

	err := errors.New("test error")
	presenter.Error(err, "test context")

	output := errorOutput.String()
	assert.Contains(t, output, "[ERROR]")
	assert.Contains(t, output, "test context")
	assert.Contains(t, output, "test error")

	errorOutput.Reset()
	presenter.Error(nil, "context")
	assert.Empty(t, errorOutput.String())
}

func TestQuietMode(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)
	presenter.SetQuiet(true)

	presenter.Success("done")
	presenter.Warning("careful")
	presenter.Info("note")
	presenter.Section("title")
	presenter.Separator()
	presenter.Stats(&llm.Usage{TotalTokens: 10})

	assert.Empty(t, output.String())
	assert.True(t, presenter.IsQuiet())
}

func TestStats(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Stats(&llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})

	result := output.String()
	assert.Contains(t, result, "Prompt tokens: 100")
	assert.Contains(t, result, "Total: 120")

	output.Reset()
	presenter.Stats(nil)
	assert.Empty(t, output.String())
}

func TestSection(t *testing.T) {
	var output bytes.Buffer
	presenter := NewWithOptions(&output, nil, ColorNever)

	presenter.Section("Skills")

	result := output.String()
	assert.Contains(t, result, "Skills")
	assert.Contains(t, result, "------")
}
