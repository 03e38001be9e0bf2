package transport

import "testing"

func TestMarkRepliedOnce(t *testing.T) {
	t.Parallel()
	c := &Command{Name: "bot-info"}
	if !c.MarkReplied() {
		t.Fatalf("first reply not reported")
	}
	if c.MarkReplied() {
		t.Fatalf("second reply reported as first")
	}
}

func TestReactionDirect(t *testing.T) {
	t.Parallel()
	if !(&Reaction{}).Direct() {
		t.Fatalf("reaction without guild should be direct")
	}
	if (&Reaction{GuildID: "g"}).Direct() {
		t.Fatalf("guild reaction reported direct")
	}
}
