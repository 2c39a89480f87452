package task

import "fmt"

// Message is one turn exchanged with an agent.
type Message struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	EvalLabels  []string `json:"eval_labels,omitempty"`
	EpisodeDone bool     `json:"episode_done"`
}

// Agent supplies evaluation turns. Done reports end-of-episode once the
// agent has nothing further to emit.
type Agent interface {
	Observe(Message)
	Act() (Message, error)
	Done() bool
}

// Constructor builds a fresh agent for one evaluation session.
type Constructor func() Agent

var registry = map[string]Constructor{}

// Register adds an agent constructor under the given task name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// New constructs an agent for the given task name.
func New(name string) (Agent, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown task: %s", name)
	}
	return ctor(), nil
}

// Names returns all registered task names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
