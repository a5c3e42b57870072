package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openskills/openskills/pkg/skills"
)

func writeSkill(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	path := filepath.Join(skillDir, skills.SkillFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return skillDir
}

const pdfSkill = `---
name: pdf-processing
description: Extract text from PDF documents
triggers:
  - pdf
references:
  - path: references/api.md
    mode: always
scripts:
  - name: extract
    path: scripts/extract.sh
    description: Extract text
    sandbox: false
---

# PDF Processing

Use the extract script on each document.
`

func setupRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()

	skillDir := writeSkill(t, root, "pdf", pdfSkill)
	require.NoError(t, os.MkdirAll(filepath.Join(skillDir, "references"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "references", "api.md"), []byte("# API\nDetails."), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(skillDir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "scripts", "extract.sh"),
		[]byte("#!/bin/bash\necho \"extracted: $(cat)\"\n"), 0o755))

	return New(WithRoots(root)), skillDir
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "pdf", pdfSkill)
	writeSkill(t, root, "broken", "---\nversion: 1.0.0\n---\nno name or description")
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("not a skill"), 0o644))

	reg := New(WithRoots(root))
	catalog, err := reg.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, catalog, 1, "malformed skills are skipped, not fatal")
	assert.Equal(t, "pdf-processing", catalog[0].Name)
}

func TestDiscoverRootItself(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, skills.SkillFileName),
		[]byte("---\nname: standalone\ndescription: a skill at the root\n---\nbody"), 0o644))

	reg := New(WithRoots(root))
	catalog, err := reg.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "standalone", catalog[0].Name)
}

func TestDiscoverLastWriteWins(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeSkill(t, rootA, "pdf", pdfSkill)
	writeSkill(t, rootB, "pdf-override",
		"---\nname: pdf-processing\ndescription: overriding copy\n---\nbody")

	reg := New(WithRoots(rootA, rootB))
	catalog, err := reg.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, catalog, 1)
	assert.Equal(t, "overriding copy", catalog[0].Description)
}

func TestGetSkillNotFound(t *testing.T) {
	reg, _ := setupRegistry(t)
	_, err := reg.Discover(context.Background())
	require.NoError(t, err)

	_, err = reg.GetSkill("nope")
	var nferr *skills.NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "skill", nferr.Kind)
}

func TestLoadInstruction(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.Discover(ctx)
	require.NoError(t, err)

	skill, err := reg.GetSkill("pdf-processing")
	require.NoError(t, err)
	assert.False(t, skill.InstructionLoaded(), "discovery is metadata-only")

	instruction, err := reg.LoadInstruction(ctx, "pdf-processing")
	require.NoError(t, err)
	assert.Contains(t, instruction.Content, "# PDF Processing")

	again, err := reg.LoadInstruction(ctx, "pdf-processing")
	require.NoError(t, err)
	assert.Same(t, instruction, again, "repeated loads reuse the cached instruction")
}

func TestLoadReference(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.Discover(ctx)
	require.NoError(t, err)

	content, found, err := reg.LoadReference(ctx, "pdf-processing", "references/api.md")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, content, "# API")

	_, _, err = reg.LoadReference(ctx, "pdf-processing", "references/nope.md")
	var nferr *skills.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestLoadReferenceAbsentFile(t *testing.T) {
	reg, skillDir := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.Discover(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(skillDir, "references", "api.md")))

	_, found, err := reg.LoadReference(ctx, "pdf-processing", "references/api.md")
	require.NoError(t, err, "a declared but absent file is not an error")
	assert.False(t, found)
}

func TestExecuteScriptLocal(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.Discover(ctx)
	require.NoError(t, err)

	out, err := reg.ExecuteScript(ctx, "pdf-processing", "extract", "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "extracted: doc.pdf\n", out)
}

func TestExecuteScriptNotFound(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := reg.Discover(ctx)
	require.NoError(t, err)

	_, err = reg.ExecuteScript(ctx, "pdf-processing", "nope", "", nil)
	var nferr *skills.NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "script", nferr.Kind)
}

func TestRefresh(t *testing.T) {
	root := t.TempDir()
	reg := New(WithRoots(root))
	ctx := context.Background()

	catalog, err := reg.Discover(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	writeSkill(t, root, "pdf", pdfSkill)

	catalog, err = reg.Discover(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog, "Discover reuses the first scan")

	catalog, err = reg.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, 1)
}

func TestIsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.True(t, isLocalFile(path))
	assert.False(t, isLocalFile(filepath.Dir(path)), "directories are not uploadable payloads")
	assert.False(t, isLocalFile("no/such/file"))
	assert.False(t, isLocalFile(""))
}
