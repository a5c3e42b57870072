// Package skills implements the three-layer progressive disclosure model for
// agent skills. A skill is a directory containing a SKILL.md file with YAML
// frontmatter (layer 1: metadata), a markdown body (layer 2: instruction),
// and conditionally loaded resources under references/ and scripts/
// (layer 3). Metadata is always resident; instructions and reference
// contents are loaded lazily.
package skills

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Conventional resource directory names inside a skill directory.
const (
	ReferencesDir = "references"
	ScriptsDir    = "scripts"
)

// Script timeout bounds in seconds.
const (
	MinScriptTimeout     = 1
	MaxScriptTimeout     = 300
	DefaultScriptTimeout = 30
)

// Metadata is layer 1: always loaded, used for discovery and matching.
type Metadata struct {
	Name        string
	Description string
	Version     string
	Triggers    []string
	Author      string
	Tags        []string
}

// Instruction is layer 2: the SKILL.md body, loaded when a skill activates.
type Instruction struct {
	// Content is the markdown body without frontmatter.
	Content string
	// Raw is the original document including frontmatter.
	Raw string
}

// SystemPrompt returns the instruction content ready for LLM injection.
func (i *Instruction) SystemPrompt() string {
	return strings.TrimSpace(i.Content)
}

// TokenEstimate gives a rough token count (4 chars per token heuristic).
func (i *Instruction) TokenEstimate() int {
	return len(i.Content) / 4
}

// ReferenceMode controls when a reference document is loaded.
type ReferenceMode string

const (
	// ModeAlways loads the reference unconditionally when the skill activates.
	ModeAlways ReferenceMode = "always"
	// ModeExplicit carries a natural-language condition the LLM evaluates.
	ModeExplicit ReferenceMode = "explicit"
	// ModeImplicit has no condition; the LLM may pull it in as general material.
	ModeImplicit ReferenceMode = "implicit"
)

// ParseReferenceMode normalizes a frontmatter mode string, defaulting to
// implicit for unknown values.
func ParseReferenceMode(s string) ReferenceMode {
	switch ReferenceMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAlways:
		return ModeAlways
	case ModeExplicit:
		return ModeExplicit
	default:
		return ModeImplicit
	}
}

// Reference is a layer 3 document loaded into context only when applicable.
// Loading state is tagged: an unloaded reference and a loaded-but-empty
// reference are distinct states.
type Reference struct {
	Path        string
	Condition   string
	Description string
	Mode        ReferenceMode

	content string
	loaded  bool
}

// IsLoaded reports whether the content has been populated.
func (r *Reference) IsLoaded() bool {
	return r.loaded
}

// Content returns the loaded content. ok is false if the reference has not
// been loaded yet.
func (r *Reference) Content() (string, bool) {
	return r.content, r.loaded
}

// SetContent marks the reference loaded with the given content.
func (r *Reference) SetContent(content string) {
	r.content = content
	r.loaded = true
}

// Unload discards the loaded content, returning to the unloaded state.
func (r *Reference) Unload() {
	r.content = ""
	r.loaded = false
}

// Script is a layer 3 executable. Scripts are executed, not read: the model
// only ever sees the invocation hint and the execution result.
type Script struct {
	Name        string
	Path        string
	Description string
	Args        []string
	// Timeout is the wall-clock limit in seconds, clamped to [1, 300].
	Timeout int
	// Sandbox requests a restricted execution environment.
	Sandbox bool
	// Outputs lists remote paths synced back locally after sandbox execution.
	Outputs []string
}

// InvocationHint shows the model the exact marker that triggers this
// script.
func (s *Script) InvocationHint() string {
	marker := fmt.Sprintf("[INVOKE:%s]", s.Name)
	if len(s.Args) > 0 {
		marker = fmt.Sprintf("[INVOKE:%s(%s)]", s.Name, strings.Join(s.Args, ", "))
	}
	if s.Description == "" {
		return marker
	}
	return marker + " - " + s.Description
}

// ClampTimeout normalizes the timeout into the allowed range, applying the
// default when unset.
func (s *Script) ClampTimeout() {
	switch {
	case s.Timeout == 0:
		s.Timeout = DefaultScriptTimeout
	case s.Timeout < MinScriptTimeout:
		s.Timeout = MinScriptTimeout
	case s.Timeout > MaxScriptTimeout:
		s.Timeout = MaxScriptTimeout
	}
}

// Dependency lists packages and shell setup commands required before a
// skill's scripts can run. Provisioned once per skill per sandbox session.
type Dependency struct {
	Python []string
	System []string
}

// HasDependencies reports whether any provisioning is required.
func (d Dependency) HasDependencies() bool {
	return len(d.Python) > 0 || len(d.System) > 0
}

// PipInstallCommand builds the pip command for the python packages, or ""
// when there are none.
func (d Dependency) PipInstallCommand() string {
	if len(d.Python) == 0 {
		return ""
	}
	quoted := make([]string, len(d.Python))
	for i, pkg := range d.Python {
		quoted[i] = fmt.Sprintf("%q", pkg)
	}
	return "pip install " + strings.Join(quoted, " ")
}

// Resources groups a skill's layer 3 declarations.
type Resources struct {
	References []*Reference
	Scripts    []*Script
	Dependency Dependency
}

// Reference looks up a reference by its relative path.
func (r *Resources) Reference(path string) *Reference {
	for _, ref := range r.References {
		if ref.Path == path {
			return ref
		}
	}
	return nil
}

// Script looks up a script by name.
func (r *Resources) Script(name string) *Script {
	for _, s := range r.Scripts {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Skill aggregates all three layers plus the source location.
type Skill struct {
	Metadata    Metadata
	Instruction *Instruction
	Resources   Resources
	// SourcePath is the absolute path to the SKILL.md document.
	SourcePath string
}

// Name returns the unique skill name (the join key used everywhere).
func (s *Skill) Name() string { return s.Metadata.Name }

// Description returns the skill description.
func (s *Skill) Description() string { return s.Metadata.Description }

// InstructionLoaded reports whether layer 2 has been attached.
func (s *Skill) InstructionLoaded() bool { return s.Instruction != nil }

// BaseDir returns the skill directory used to resolve relative resource
// paths, or "" when the skill was parsed from memory.
func (s *Skill) BaseDir() string {
	if s.SourcePath == "" {
		return ""
	}
	return filepath.Dir(s.SourcePath)
}

// ResolveReferencePath resolves a reference path relative to the skill dir.
func (s *Skill) ResolveReferencePath(ref *Reference) string {
	if base := s.BaseDir(); base != "" {
		return filepath.Join(base, filepath.FromSlash(ref.Path))
	}
	return ""
}

// ResolveScriptPath resolves a script path relative to the skill dir.
func (s *Skill) ResolveScriptPath(script *Script) string {
	if base := s.BaseDir(); base != "" {
		return filepath.Join(base, filepath.FromSlash(script.Path))
	}
	return ""
}

// Summary is a lightweight view of a skill for display and catalogs.
type Summary struct {
	Name           string
	Description    string
	Version        string
	Triggers       []string
	HasInstruction bool
	ReferenceCount int
	ScriptCount    int
	Source         string
}

// Summarize builds a Summary without loading any lazy content.
func (s *Skill) Summarize() Summary {
	return Summary{
		Name:           s.Name(),
		Description:    s.Description(),
		Version:        s.Metadata.Version,
		Triggers:       s.Metadata.Triggers,
		HasInstruction: s.InstructionLoaded(),
		ReferenceCount: len(s.Resources.References),
		ScriptCount:    len(s.Resources.Scripts),
		Source:         s.SourcePath,
	}
}
