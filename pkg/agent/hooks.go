package agent

// Hooks receives notifications at the agent's decision points so a CLI or
// host application can surface what the agent is doing. Implementations
// must not block; they run inline with the turn.
type Hooks interface {
	OnSkillSelected(name string)
	OnSkillDeselected(name string)
	OnReferenceLoaded(skill, path string)
	OnScriptExecuted(skill, script string, err error)
}

// NopHooks discards all notifications.
type NopHooks struct{}

func (NopHooks) OnSkillSelected(string)                 {}
func (NopHooks) OnSkillDeselected(string)               {}
func (NopHooks) OnReferenceLoaded(string, string)       {}
func (NopHooks) OnScriptExecuted(string, string, error) {}

var _ Hooks = NopHooks{}
