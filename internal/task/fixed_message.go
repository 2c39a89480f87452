package task

// FixedMessageTask names the single-turn deterministic data source used
// to drive loss-only evaluation without real dialogue data.
const FixedMessageTask = "fixed_message"

const (
	fixedMessageText = "This is a test message."
	placeholderLabel = "(NONE)"
)

func init() {
	Register(FixedMessageTask, func() Agent { return &fixedMessage{} })
}

// fixedMessage emits exactly one message, then reports end-of-episode.
// The only state transition is "not yet emitted" to "emitted".
type fixedMessage struct {
	emitted bool
}

func (f *fixedMessage) Observe(Message) {
	// Nothing to do; the reply is never inspected.
}

func (f *fixedMessage) Act() (Message, error) {
	f.emitted = true
	return Message{
		ID:          FixedMessageTask,
		Text:        fixedMessageText,
		EvalLabels:  []string{placeholderLabel},
		EpisodeDone: true,
	}, nil
}

func (f *fixedMessage) Done() bool {
	return f.emitted
}
