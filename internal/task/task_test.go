package task

import "testing"

func TestFixedMessageSingleTurn(t *testing.T) {
	agent, err := New(FixedMessageTask)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if agent.Done() {
		t.Error("agent should not be done before emitting")
	}

	msg, err := agent.Act()
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if msg.ID != FixedMessageTask {
		t.Errorf("expected id %q, got %q", FixedMessageTask, msg.ID)
	}
	if msg.Text != "This is a test message." {
		t.Errorf("unexpected text: %q", msg.Text)
	}
	if len(msg.EvalLabels) != 1 || msg.EvalLabels[0] != "(NONE)" {
		t.Errorf("expected placeholder label, got %v", msg.EvalLabels)
	}
	if !msg.EpisodeDone {
		t.Error("expected episode_done on the only turn")
	}

	if !agent.Done() {
		t.Error("agent should be done after the single turn")
	}
}

func TestFixedMessageDeterministic(t *testing.T) {
	a, _ := New(FixedMessageTask)
	b, _ := New(FixedMessageTask)

	ma, _ := a.Act()
	mb, _ := b.Act()
	if ma.Text != mb.Text || ma.ID != mb.ID {
		t.Error("fixed message must be identical across sessions")
	}
}

func TestFixedMessageObserveIsInert(t *testing.T) {
	agent, _ := New(FixedMessageTask)
	agent.Observe(Message{Text: "model reply"})

	if agent.Done() {
		t.Error("Observe must not advance agent state")
	}
}

func TestNewUnknownTask(t *testing.T) {
	if _, err := New("open_domain_chitchat"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestNamesIncludesFixedMessage(t *testing.T) {
	found := false
	for _, name := range Names() {
		if name == FixedMessageTask {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q in registered tasks, got %v", FixedMessageTask, Names())
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a, _ := New(FixedMessageTask)
	if _, err := a.Act(); err != nil {
		t.Fatalf("Act failed: %v", err)
	}

	b, _ := New(FixedMessageTask)
	if b.Done() {
		t.Error("fresh session must start unemitted")
	}
}
