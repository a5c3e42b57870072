// Package registry discovers skill directories, indexes their metadata, and
// serves lazy loading of instructions and references. It also dispatches
// script execution to the local executor or, in sandbox mode, to a pooled
// remote executor with file sync in both directions.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/executor"
	"github.com/openskills/openskills/pkg/logger"
	"github.com/openskills/openskills/pkg/sandbox"
	"github.com/openskills/openskills/pkg/skills"
)

// OutputDir is the local directory beside a skill where sandbox outputs are
// synced after execution.
const OutputDir = "output"

// Registry indexes skills and owns their lazy-loading lifecycle.
type Registry struct {
	roots      []string
	parser     *skills.Parser
	local      *executor.Executor
	pool       *sandbox.Manager
	useSandbox bool

	mu         sync.RWMutex
	skills     map[string]*skills.Skill
	names      []string // registration order, collisions keep position
	discovered bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithRoots sets the directories scanned for skills.
func WithRoots(roots ...string) Option {
	return func(r *Registry) { r.roots = roots }
}

// WithParser substitutes the skill parser.
func WithParser(p *skills.Parser) Option {
	return func(r *Registry) { r.parser = p }
}

// WithLocalExecutor substitutes the local script executor.
func WithLocalExecutor(e *executor.Executor) Option {
	return func(r *Registry) { r.local = e }
}

// WithSandbox enables remote execution through the given pool.
func WithSandbox(pool *sandbox.Manager) Option {
	return func(r *Registry) {
		r.pool = pool
		r.useSandbox = pool != nil
	}
}

// New creates a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		parser: skills.NewParser(),
		local:  executor.New(),
		skills: make(map[string]*skills.Skill),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover scans the configured roots and registers every parseable skill,
// metadata-only. A malformed skill document is logged and skipped; it never
// aborts discovery. Repeated calls reuse the first scan.
func (r *Registry) Discover(ctx context.Context) ([]skills.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discovered {
		return r.metadataLocked(), nil
	}

	for _, root := range r.roots {
		r.scanRoot(ctx, root)
	}

	r.discovered = true
	return r.metadataLocked(), nil
}

// Refresh forces a re-scan of the configured roots.
func (r *Registry) Refresh(ctx context.Context) ([]skills.Metadata, error) {
	r.mu.Lock()
	r.skills = make(map[string]*skills.Skill)
	r.names = nil
	r.discovered = false
	r.mu.Unlock()
	return r.Discover(ctx)
}

// scanRoot registers skills from every immediate subdirectory containing a
// SKILL.md, plus the root itself. Callers hold the lock.
func (r *Registry) scanRoot(ctx context.Context, root string) {
	log := logger.G(ctx)

	entries, err := os.ReadDir(root)
	if err != nil {
		log.WithError(err).WithField("root", root).Debug("skill root not readable")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r.registerFrom(ctx, filepath.Join(root, entry.Name(), skills.SkillFileName))
	}

	r.registerFrom(ctx, filepath.Join(root, skills.SkillFileName))
}

func (r *Registry) registerFrom(ctx context.Context, skillFile string) {
	if _, err := os.Stat(skillFile); err != nil {
		return
	}

	skill, err := r.parser.ParseFile(skillFile, true)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("file", skillFile).Warn("skipping malformed skill")
		return
	}

	name := skill.Name()
	if _, exists := r.skills[name]; !exists {
		r.names = append(r.names, name)
	}
	// Last write wins on name collisions.
	r.skills[name] = skill
}

func (r *Registry) metadataLocked() []skills.Metadata {
	out := make([]skills.Metadata, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.skills[name].Metadata)
	}
	return out
}

// Metadata returns the layer 1 index in registration order.
func (r *Registry) Metadata() []skills.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadataLocked()
}

// GetSkill returns a registered skill by name.
func (r *Registry) GetSkill(name string) (*skills.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.skills[name]
	if !ok {
		return nil, &skills.NotFoundError{Kind: "skill", Name: name}
	}
	return skill, nil
}

// LoadInstruction attaches layer 2 to the named skill, reusing the cached
// instruction when already loaded.
func (r *Registry) LoadInstruction(ctx context.Context, name string) (*skills.Instruction, error) {
	skill, err := r.GetSkill(name)
	if err != nil {
		return nil, err
	}

	if skill.InstructionLoaded() {
		return skill.Instruction, nil
	}

	if skill.SourcePath == "" {
		return nil, errors.Errorf("skill %s has no source document", name)
	}

	full, err := r.parser.ParseFile(skill.SourcePath, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skill instruction")
	}
	if full.Instruction == nil {
		// A skill with an empty body still activates.
		full.Instruction = &skills.Instruction{}
	}

	r.mu.Lock()
	skill.Instruction = full.Instruction
	r.mu.Unlock()

	logger.G(ctx).WithField("skill", name).Debug("loaded skill instruction")
	return skill.Instruction, nil
}

// LoadReference populates a reference's content. Idempotent. An absent file
// is not an error: found is false and the caller must treat the reference
// as unavailable.
func (r *Registry) LoadReference(ctx context.Context, skillName, refPath string) (content string, found bool, err error) {
	skill, err := r.GetSkill(skillName)
	if err != nil {
		return "", false, err
	}

	ref := skill.Resources.Reference(refPath)
	if ref == nil {
		return "", false, &skills.NotFoundError{Kind: "reference", Name: refPath}
	}

	if c, ok := ref.Content(); ok {
		return c, true, nil
	}

	resolved := skill.ResolveReferencePath(ref)
	if resolved == "" {
		return "", false, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "failed to read reference")
	}

	ref.SetContent(string(data))
	logger.G(ctx).WithFields(map[string]any{"skill": skillName, "reference": refPath}).Debug("loaded reference")
	return string(data), true, nil
}

// ExecuteScript runs the named script of a skill with the given stdin input
// and arguments, dispatching locally or to the sandbox pool.
func (r *Registry) ExecuteScript(ctx context.Context, skillName, scriptName, input string, args []string) (string, error) {
	skill, err := r.GetSkill(skillName)
	if err != nil {
		return "", err
	}

	script := skill.Resources.Script(scriptName)
	if script == nil {
		return "", &skills.NotFoundError{Kind: "script", Name: scriptName}
	}

	resolved := skill.ResolveScriptPath(script)
	if resolved == "" {
		return "", errors.Errorf("skill %s has no source directory to resolve scripts", skillName)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", &skills.NotFoundError{Kind: "script file", Name: script.Path}
	}

	if r.useSandbox {
		return r.executeInSandbox(ctx, skill, script, resolved, input, args)
	}

	return r.local.Execute(ctx, resolved, executor.Options{
		Timeout:    time.Duration(script.Timeout) * time.Second,
		Args:       args,
		Input:      input,
		Restricted: script.Sandbox,
	})
}

func (r *Registry) executeInSandbox(ctx context.Context, skill *skills.Skill, script *skills.Script, scriptPath, input string, args []string) (string, error) {
	var dep *skills.Dependency
	if skill.Resources.Dependency.HasDependencies() {
		d := skill.Resources.Dependency
		dep = &d
	}

	exec, err := r.pool.GetExecutor(ctx, skill.Name(), dep)
	if err != nil {
		return "", err
	}

	input, err = r.uploadPayloadFiles(ctx, exec, input)
	if err != nil {
		return "", err
	}

	output, err := exec.Execute(ctx, scriptPath, sandbox.ExecuteOptions{
		Timeout: time.Duration(script.Timeout) * time.Second,
		Args:    args,
		Input:   input,
	})
	if err != nil {
		return "", err
	}

	if len(script.Outputs) > 0 && skill.BaseDir() != "" {
		localDir := filepath.Join(skill.BaseDir(), OutputDir)
		count, syncErr := downloadOutputs(ctx, exec.Client(), script.Outputs, localDir)
		if syncErr != nil {
			// Per-file sync failures never abort completed downloads.
			logger.G(ctx).WithError(syncErr).Warn("some sandbox outputs could not be synced")
		}
		if count > 0 {
			logger.G(ctx).WithFields(map[string]any{"files": count, "dir": localDir}).Info("synced sandbox outputs")
		}
	}

	return output, nil
}

// uploadPayloadFiles scans the script input for values that are existing
// local filesystem paths, uploads each to the sandbox uploads directory,
// and rewrites the payload to use the remote paths.
func (r *Registry) uploadPayloadFiles(ctx context.Context, exec *sandbox.Executor, input string) (string, error) {
	if input == "" {
		return input, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(input), &parsed); err != nil {
		// Not JSON: the payload may itself be a file path.
		if isLocalFile(input) {
			return exec.UploadLocalFile(ctx, input)
		}
		return input, nil
	}

	rewritten, err := rewritePaths(ctx, exec, parsed)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(rewritten)
	if err != nil {
		return "", errors.Wrap(err, "failed to re-encode payload")
	}
	return string(out), nil
}

func rewritePaths(ctx context.Context, exec *sandbox.Executor, value any) (any, error) {
	switch v := value.(type) {
	case string:
		if isLocalFile(v) {
			return exec.UploadLocalFile(ctx, v)
		}
		return v, nil
	case map[string]any:
		for key, item := range v {
			rewritten, err := rewritePaths(ctx, exec, item)
			if err != nil {
				return nil, err
			}
			v[key] = rewritten
		}
		return v, nil
	case []any:
		for i, item := range v {
			rewritten, err := rewritePaths(ctx, exec, item)
			if err != nil {
				return nil, err
			}
			v[i] = rewritten
		}
		return v, nil
	default:
		return v, nil
	}
}

func isLocalFile(path string) bool {
	if path == "" || strings.ContainsAny(path, "\n\r") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// downloadOutputs recursively mirrors every declared sandbox output path
// into localDir, preserving relative structure. Per-file failures are
// collected and reported but never abort files already downloaded.
func downloadOutputs(ctx context.Context, client *sandbox.Client, remotePaths []string, localDir string) (int, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "failed to create output directory")
	}

	var merr *multierror.Error
	count := 0

	for _, remote := range remotePaths {
		entries, err := client.ListFiles(ctx, remote)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "failed to list %s", remote))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir {
				sub, err := downloadOutputs(ctx, client, []string{entry.Path}, filepath.Join(localDir, entry.Name))
				count += sub
				if err != nil {
					merr = multierror.Append(merr, err)
				}
				continue
			}

			data, err := client.DownloadFile(ctx, entry.Path)
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "failed to download %s", entry.Path))
				continue
			}

			rel := strings.TrimPrefix(strings.TrimPrefix(entry.Path, remote), "/")
			local := filepath.Join(localDir, filepath.FromSlash(rel))
			if rel == "" {
				local = filepath.Join(localDir, entry.Name)
			}
			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			if err := os.WriteFile(local, data, 0o644); err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "failed to write %s", local))
				continue
			}
			count++
		}
	}

	return count, merr.ErrorOrNil()
}
