package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSkill = `---
name: pdf-processing
description: Extract and transform PDF documents
version: 2.1.0
triggers:
  - pdf
  - extract pdf
tags:
  - documents
references:
  - path: references/api.md
    mode: always
  - path: references/advanced.md
    mode: explicit
    condition: user needs OCR or scanned documents
  - references/notes.md
scripts:
  - name: extract
    path: scripts/extract.py
    description: Extract text from a PDF
    timeout: 600
  - name: convert
    path: scripts/convert.sh
    sandbox: false
dependency:
  python:
    - pypdf
  system:
    - apt-get install -y poppler-utils
---

# PDF Processing

Follow these steps to process PDF documents.
`

func TestParse(t *testing.T) {
	p := NewParser()

	skill, err := p.Parse(sampleSkill, "", false)
	require.NoError(t, err)

	assert.Equal(t, "pdf-processing", skill.Name())
	assert.Equal(t, "Extract and transform PDF documents", skill.Description())
	assert.Equal(t, "2.1.0", skill.Metadata.Version)
	assert.Equal(t, []string{"pdf", "extract pdf"}, skill.Metadata.Triggers)

	require.True(t, skill.InstructionLoaded())
	assert.Contains(t, skill.Instruction.Content, "# PDF Processing")
	assert.NotContains(t, skill.Instruction.Content, "name: pdf-processing")

	require.Len(t, skill.Resources.References, 3)
	assert.Equal(t, ModeAlways, skill.Resources.References[0].Mode)
	assert.Equal(t, ModeExplicit, skill.Resources.References[1].Mode)
	assert.Equal(t, "user needs OCR or scanned documents", skill.Resources.References[1].Condition)
	assert.Equal(t, ModeImplicit, skill.Resources.References[2].Mode)
	assert.False(t, skill.Resources.References[0].IsLoaded())

	require.Len(t, skill.Resources.Scripts, 2)
	extract := skill.Resources.Scripts[0]
	assert.Equal(t, "extract", extract.Name)
	assert.Equal(t, MaxScriptTimeout, extract.Timeout, "timeout above the cap is clamped")
	assert.True(t, extract.Sandbox, "sandbox defaults to true")
	assert.False(t, skill.Resources.Scripts[1].Sandbox)

	assert.Equal(t, []string{"pypdf"}, skill.Resources.Dependency.Python)
	assert.True(t, skill.Resources.Dependency.HasDependencies())
}

func TestParseMetadataOnly(t *testing.T) {
	p := NewParser()

	skill, err := p.Parse(sampleSkill, "", true)
	require.NoError(t, err)

	assert.False(t, skill.InstructionLoaded())
	assert.Len(t, skill.Resources.References, 3, "resources are parsed even metadata-only")
}

func TestParseValidation(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		content string
		missing []string
	}{
		{
			name:    "missing name",
			content: "---\ndescription: something\n---\nbody",
			missing: []string{"name"},
		},
		{
			name:    "missing description",
			content: "---\nname: x\n---\nbody",
			missing: []string{"description"},
		},
		{
			name:    "missing both",
			content: "---\nversion: 1.0.0\n---\nbody",
			missing: []string{"name", "description"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.content, "", true)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.missing, verr.MissingFields)
		})
	}
}

func TestParseNoFrontmatter(t *testing.T) {
	p := NewParser()

	_, err := p.Parse("# Just a document\n\nNo header here.", "", true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseDefaultVersion(t *testing.T) {
	p := NewParser()

	skill, err := p.Parse("---\nname: x\ndescription: y\n---\nbody", "", true)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", skill.Metadata.Version)
}

func TestReferenceAutoDiscovery(t *testing.T) {
	dir := t.TempDir()
	refDir := filepath.Join(dir, ReferencesDir)
	require.NoError(t, os.MkdirAll(filepath.Join(refDir, "nested"), 0o755))

	files := map[string]string{
		"api.md":           "declared",
		"guide.txt":        "auto",
		"nested/deep.yaml": "auto",
		"binary.bin":       "ignored extension",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(refDir, name), []byte(content), 0o644))
	}

	content := `---
name: discovery
description: auto-discovery of reference files
references:
  - path: references/api.md
    mode: always
---
body`
	skillFile := filepath.Join(dir, SkillFileName)
	require.NoError(t, os.WriteFile(skillFile, []byte(content), 0o644))

	skill, err := NewParser().ParseFile(skillFile, true)
	require.NoError(t, err)

	paths := make(map[string]ReferenceMode)
	for _, ref := range skill.Resources.References {
		paths[ref.Path] = ref.Mode
	}

	assert.Len(t, paths, 3, "declared file is not duplicated, .bin is skipped")
	assert.Equal(t, ModeAlways, paths["references/api.md"])
	assert.Equal(t, ModeImplicit, paths["references/guide.txt"])
	assert.Equal(t, ModeImplicit, paths["references/nested/deep.yaml"])
}
