package agent

import (
	"sort"

	"github.com/openskills/openskills/pkg/llm"
)

// State describes where the conversation sits in the skill lifecycle.
type State string

const (
	// StateIdle means no skill is active; the agent advertises the catalog.
	StateIdle State = "idle"
	// StateSkillActive means a skill's instruction drives the system prompt.
	StateSkillActive State = "skill_active"
	// StateAwaitingConfirmation means a selection is pending host approval
	// before the skill activates.
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// Conversation holds the mutable per-session state: message history, the
// active skill, and the reference bookkeeping that makes progressive
// disclosure work across turns. Reference summaries survive skill
// deselection so a re-selected skill does not reload everything.
type Conversation struct {
	Messages    []llm.Message
	ActiveSkill string
	State       State

	loadedRefs map[string]bool
	summaries  map[string]string
}

// NewConversation creates an empty idle conversation.
func NewConversation() *Conversation {
	return &Conversation{
		State:      StateIdle,
		loadedRefs: make(map[string]bool),
		summaries:  make(map[string]string),
	}
}

func refKey(skill, path string) string { return skill + "/" + path }

// MarkLoaded records that a reference was shown in full this session.
func (c *Conversation) MarkLoaded(skill, path string) {
	c.loadedRefs[refKey(skill, path)] = true
}

// Loaded reports whether a reference was already shown in full.
func (c *Conversation) Loaded(skill, path string) bool {
	return c.loadedRefs[refKey(skill, path)]
}

// Summary returns the cached summary for a reference, if any.
func (c *Conversation) Summary(skill, path string) (string, bool) {
	s, ok := c.summaries[refKey(skill, path)]
	return s, ok
}

// SetSummary caches a reference summary.
func (c *Conversation) SetSummary(skill, path, summary string) {
	c.summaries[refKey(skill, path)] = summary
}

// LoadedPaths returns the sorted reference paths of the skill already
// loaded in earlier turns.
func (c *Conversation) LoadedPaths(skill string) []string {
	prefix := skill + "/"
	var paths []string
	for key := range c.loadedRefs {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			paths = append(paths, key[len(prefix):])
		}
	}
	sort.Strings(paths)
	return paths
}

// Deselect clears the active skill but keeps history and summaries.
func (c *Conversation) Deselect() {
	c.ActiveSkill = ""
	c.State = StateIdle
}

// Reset drops everything and returns the conversation to a fresh state.
func (c *Conversation) Reset() {
	c.Messages = nil
	c.ActiveSkill = ""
	c.State = StateIdle
	c.loadedRefs = make(map[string]bool)
	c.summaries = make(map[string]string)
}
