// Package agent orchestrates conversations over a skill registry: it
// selects skills for user input, loads references progressively, assembles
// the system prompt each turn, and executes the scripts a model response
// requests.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/llm"
	"github.com/openskills/openskills/pkg/logger"
	"github.com/openskills/openskills/pkg/matcher"
	"github.com/openskills/openskills/pkg/registry"
	"github.com/openskills/openskills/pkg/skills"
)

// CatalogPreviewLimit caps how many skills the idle system prompt lists.
const CatalogPreviewLimit = 5

// Agent drives the chat loop. All public methods are safe for concurrent
// use; a single conversation is serialized internally.
type Agent struct {
	registry   *registry.Registry
	matcher    *matcher.Matcher
	client     llm.Client
	hooks      Hooks
	basePrompt string

	mu   sync.Mutex
	conv *Conversation
}

// Option configures an Agent.
type Option func(*Agent)

// WithHooks injects a decision-point observer.
func WithHooks(h Hooks) Option {
	return func(a *Agent) { a.hooks = h }
}

// WithBasePrompt overrides the base system prompt.
func WithBasePrompt(prompt string) Option {
	return func(a *Agent) { a.basePrompt = prompt }
}

// WithMatcher substitutes the skill matcher.
func WithMatcher(m *matcher.Matcher) Option {
	return func(a *Agent) { a.matcher = m }
}

// New creates an agent over a registry and a completion client.
func New(reg *registry.Registry, client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		registry:   reg,
		matcher:    matcher.NewDefault(),
		client:     client,
		hooks:      NopHooks{},
		basePrompt: DefaultBasePrompt,
		conv:       NewConversation(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ActiveSkill returns the currently selected skill name, or "".
func (a *Agent) ActiveSkill() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.ActiveSkill
}

// State returns the conversation state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.State
}

// History returns a copy of the message history.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message{}, a.conv.Messages...)
}

// Reset clears the conversation entirely.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conv.Reset()
}

// SelectSkill activates a skill by name, loading its instruction.
func (a *Agent) SelectSkill(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectSkill(ctx, name)
}

func (a *Agent) selectSkill(ctx context.Context, name string) error {
	if _, err := a.registry.LoadInstruction(ctx, name); err != nil {
		return err
	}
	a.conv.ActiveSkill = name
	a.conv.State = StateSkillActive
	a.hooks.OnSkillSelected(name)
	logger.G(ctx).WithField("skill", name).Info("skill selected")
	return nil
}

// DeselectSkill returns to the idle state, keeping history and reference
// summaries.
func (a *Agent) DeselectSkill() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conv.ActiveSkill != "" {
		a.hooks.OnSkillDeselected(a.conv.ActiveSkill)
		a.conv.Deselect()
	}
}

// ExecuteScript runs a script of the active skill directly, outside a chat
// turn.
func (a *Agent) ExecuteScript(ctx context.Context, script, input string, args []string) (string, error) {
	a.mu.Lock()
	skill := a.conv.ActiveSkill
	a.mu.Unlock()
	if skill == "" {
		return "", errors.New("no skill is active")
	}
	return a.registry.ExecuteScript(ctx, skill, script, input, args)
}

// Chat runs one full conversation turn and returns the final response,
// including any script outputs appended after invocation handling.
func (a *Agent) Chat(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages, err := a.prepareTurn(ctx, input)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	final := a.finishTurn(ctx, resp.Content)
	return final, nil
}

// ChatStream runs one turn with a streaming completion. Script outputs from
// invocation handling are delivered as extra chunks before the terminal one.
func (a *Agent) ChatStream(ctx context.Context, input string) (<-chan llm.StreamChunk, error) {
	a.mu.Lock()
	messages, err := a.prepareTurn(ctx, input)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}

	stream, err := a.client.ChatStream(ctx, messages)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}

	// Buffered so the trailing chunks never block on a consumer that
	// stopped reading; the agent mutex is held until the goroutine exits.
	out := make(chan llm.StreamChunk, 2)
	go func() {
		defer a.mu.Unlock()
		defer close(out)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var b strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				send(chunk)
				return
			}
			if chunk.Done {
				break
			}
			b.WriteString(chunk.Content)
			if !send(chunk) {
				return
			}
		}

		final := a.finishTurn(ctx, b.String())
		if extra := strings.TrimPrefix(final, b.String()); extra != "" {
			if !send(llm.StreamChunk{Content: extra}) {
				return
			}
		}
		send(llm.StreamChunk{Done: true})
	}()

	return out, nil
}

// prepareTurn appends the user message, resolves the active skill and its
// references, and returns the full message list for the completion.
// Callers hold the lock.
func (a *Agent) prepareTurn(ctx context.Context, input string) ([]llm.Message, error) {
	a.conv.Messages = append(a.conv.Messages, llm.UserMessage(input))

	if a.conv.ActiveSkill == "" {
		a.autoSelect(ctx, input)
	}

	turnRefs := a.loadTurnReferences(ctx, input)
	system, err := a.buildSystemPrompt(ctx, input, turnRefs)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(a.conv.Messages)+1)
	messages = append(messages, llm.SystemMessage(system))
	messages = append(messages, a.conv.Messages...)
	return messages, nil
}

// finishTurn records the assistant message and handles invocation markers.
// Callers hold the lock.
func (a *Agent) finishTurn(ctx context.Context, response string) string {
	a.conv.Messages = append(a.conv.Messages, llm.AssistantMessage(response))
	return a.handleInvocations(ctx, response)
}

// autoSelect picks a skill for the input via the heuristic matcher first,
// falling back to model classification. Selection failures degrade to the
// idle catalog rather than failing the turn.
func (a *Agent) autoSelect(ctx context.Context, input string) {
	log := logger.G(ctx)
	catalog := a.registry.Metadata()
	if len(catalog) == 0 {
		return
	}

	if best, ok := a.matcher.FindBest(input, catalog); ok {
		if err := a.selectSkill(ctx, best.Name); err != nil {
			log.WithError(err).WithField("skill", best.Name).Warn("failed to select matched skill")
		}
		return
	}

	resp, err := a.client.Chat(ctx, []llm.Message{llm.UserMessage(classifyPrompt(input, catalog))})
	if err != nil {
		log.WithError(err).Debug("skill classification failed")
		return
	}
	if name := parseClassification(resp.Content, catalog); name != "" {
		if err := a.selectSkill(ctx, name); err != nil {
			log.WithError(err).WithField("skill", name).Warn("failed to select classified skill")
		}
	}
}

// loadTurnReferences loads the references the active skill needs this turn:
// every unloaded ALWAYS reference, plus the EXPLICIT and IMPLICIT references
// the model grades as applicable in one batched call. Returns
// path -> content for everything loaded this turn.
func (a *Agent) loadTurnReferences(ctx context.Context, input string) map[string]string {
	loaded := make(map[string]string)
	if a.conv.ActiveSkill == "" {
		return loaded
	}

	skill, err := a.registry.GetSkill(a.conv.ActiveSkill)
	if err != nil {
		return loaded
	}

	var graded []*skills.Reference
	for _, ref := range skill.Resources.References {
		if a.conv.Loaded(skill.Name(), ref.Path) {
			continue
		}
		switch ref.Mode {
		case skills.ModeAlways:
			a.loadReference(ctx, skill.Name(), ref.Path, loaded)
		case skills.ModeExplicit, skills.ModeImplicit:
			graded = append(graded, ref)
		}
	}

	if len(graded) > 0 {
		verdicts := a.gradeConditions(ctx, input, graded)
		for i, ref := range graded {
			if verdicts[i] {
				a.loadReference(ctx, skill.Name(), ref.Path, loaded)
			}
		}
	}

	return loaded
}

func (a *Agent) loadReference(ctx context.Context, skillName, path string, loaded map[string]string) {
	content, found, err := a.registry.LoadReference(ctx, skillName, path)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("reference", path).Warn("failed to load reference")
		return
	}
	if !found {
		logger.G(ctx).WithField("reference", path).Debug("reference file absent")
		return
	}
	loaded[path] = content
	a.conv.MarkLoaded(skillName, path)
	a.hooks.OnReferenceLoaded(skillName, path)
}

// gradeConditions runs the batched YES/NO evaluation. On any model failure
// every condition defaults to NO.
func (a *Agent) gradeConditions(ctx context.Context, input string, refs []*skills.Reference) []bool {
	resp, err := a.client.Chat(ctx, []llm.Message{llm.UserMessage(conditionsPrompt(input, refs))})
	if err != nil {
		logger.G(ctx).WithError(err).Debug("condition grading failed")
		return make([]bool, len(refs))
	}
	return parseConditions(resp.Content, len(refs))
}

// buildSystemPrompt assembles the layered prompt: base, summaries of
// previously loaded references, recalled full texts, the active skill's
// instruction with script hints and this turn's references, and, when
// idle, a short catalog preview.
func (a *Agent) buildSystemPrompt(ctx context.Context, input string, turnRefs map[string]string) (string, error) {
	var b strings.Builder
	b.WriteString(a.basePrompt)

	if a.conv.ActiveSkill != "" {
		skill, err := a.registry.GetSkill(a.conv.ActiveSkill)
		if err != nil {
			return "", err
		}

		paths, summaries := a.summarizePriorReferences(ctx, skill, turnRefs)
		if len(paths) > 0 {
			b.WriteString("\n\n## Previously loaded references (summarized)\n")
			for i, path := range paths {
				fmt.Fprintf(&b, "%d. %s: %s\n", i+1, path, summaries[i])
			}

			for _, idx := range a.recallReferences(ctx, input, paths, summaries) {
				content, found, err := a.registry.LoadReference(ctx, skill.Name(), paths[idx])
				if err != nil || !found {
					continue
				}
				fmt.Fprintf(&b, "\n## Recalled reference: %s\n%s\n", paths[idx], content)
			}
		}

		b.WriteString("\n\n## Active skill: " + skill.Name() + "\n")
		if skill.Instruction != nil {
			b.WriteString(skill.Instruction.SystemPrompt())
		}

		if len(skill.Resources.Scripts) > 0 {
			b.WriteString("\n\n## Available scripts\n")
			b.WriteString("To run a script, include its invocation marker in your response.\n")
			for _, script := range skill.Resources.Scripts {
				b.WriteString("- " + script.InvocationHint() + "\n")
			}
		}

		for path, content := range turnRefs {
			fmt.Fprintf(&b, "\n## Reference: %s\n%s\n", path, content)
		}
	} else {
		catalog := a.registry.Metadata()
		if len(catalog) > 0 {
			b.WriteString("\n\n## Available skills\n")
			for i, meta := range catalog {
				if i >= CatalogPreviewLimit {
					fmt.Fprintf(&b, "... and %d more\n", len(catalog)-CatalogPreviewLimit)
					break
				}
				fmt.Fprintf(&b, "- %s: %s\n", meta.Name, meta.Description)
			}
		}
	}

	return b.String(), nil
}

// summarizePriorReferences returns summaries for references loaded in
// earlier turns that are not part of this turn's full-text set, generating
// and caching missing summaries.
func (a *Agent) summarizePriorReferences(ctx context.Context, skill *skills.Skill, turnRefs map[string]string) ([]string, []string) {
	var paths, summaries []string
	for _, path := range a.conv.LoadedPaths(skill.Name()) {
		if _, thisTurn := turnRefs[path]; thisTurn {
			continue
		}
		summary, ok := a.conv.Summary(skill.Name(), path)
		if !ok {
			summary = a.generateSummary(ctx, skill, path)
			a.conv.SetSummary(skill.Name(), path, summary)
		}
		paths = append(paths, path)
		summaries = append(summaries, summary)
	}
	return paths, summaries
}

// generateSummary asks the model for a compact summary of a reference,
// falling back to a raw prefix when the call fails.
func (a *Agent) generateSummary(ctx context.Context, skill *skills.Skill, path string) string {
	content, found, err := a.registry.LoadReference(ctx, skill.Name(), path)
	if err != nil || !found {
		return ""
	}

	resp, err := a.client.Chat(ctx, []llm.Message{llm.UserMessage(summaryPrompt(path, content))})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		logger.G(ctx).WithField("reference", path).Debug("summary generation failed, using prefix")
		return fallbackSummary(content)
	}
	return strings.TrimSpace(resp.Content)
}

// recallReferences asks the model which summarized references it needs in
// full for this input. Failures mean nothing is recalled.
func (a *Agent) recallReferences(ctx context.Context, input string, paths, summaries []string) []int {
	resp, err := a.client.Chat(ctx, []llm.Message{llm.UserMessage(recallPrompt(input, paths, summaries))})
	if err != nil {
		logger.G(ctx).WithError(err).Debug("recall check failed")
		return nil
	}
	return parseRecall(resp.Content, len(paths))
}

// handleInvocations executes every invocation marker in the response and
// appends the script outputs. A failed invocation is reported through the
// hook and logged, never propagated; the turn's text still stands.
func (a *Agent) handleInvocations(ctx context.Context, response string) string {
	invocations := extractInvocations(response)
	if len(invocations) == 0 || a.conv.ActiveSkill == "" {
		return response
	}

	log := logger.G(ctx)
	final := response

	for _, inv := range invocations {
		input := inv.Args
		if input == "" {
			// Scripts invoked without arguments read the surrounding
			// response text from stdin.
			input = stripInvocations(response)
		}

		output, err := a.registry.ExecuteScript(ctx, a.conv.ActiveSkill, inv.Script, input, nil)
		a.hooks.OnScriptExecuted(a.conv.ActiveSkill, inv.Script, err)
		if err != nil {
			log.WithError(err).WithField("script", inv.Script).Warn("script invocation failed")
			continue
		}

		final += fmt.Sprintf("\n\n[%s output]\n%s", inv.Script, strings.TrimSpace(output))
	}

	return final
}
