package sandbox

// Events receives sandbox lifecycle notifications. It is injected into the
// Executor and Manager so progress can surface in a CLI without the core
// depending on any particular output mechanism. All methods may be called
// from the goroutine driving the execution; implementations should not
// block.
type Events interface {
	Initializing()
	Authenticating(sessionID string)
	ResourceAllocated(workspace string)
	Ready()
	InstallingDependencies(packages []string)
	ScriptStarted(name string)
	ScriptCompleted(name string, err error)
	Progress(message string)
}

// NopEvents discards all notifications. It is the default for library use
// and tests.
type NopEvents struct{}

func (NopEvents) Initializing()                   {}
func (NopEvents) Authenticating(string)           {}
func (NopEvents) ResourceAllocated(string)        {}
func (NopEvents) Ready()                          {}
func (NopEvents) InstallingDependencies([]string) {}
func (NopEvents) ScriptStarted(string)            {}
func (NopEvents) ScriptCompleted(string, error)   {}
func (NopEvents) Progress(string)                 {}

var _ Events = NopEvents{}
