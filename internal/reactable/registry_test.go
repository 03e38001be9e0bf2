package reactable

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"kavitabot/internal/emoji"
	"kavitabot/internal/storage"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

type fakeSender struct {
	mu        sync.Mutex
	next      int
	sent      []string // "ch:<id>" or "dm:<id>"
	reactions []string
	reactAt   []time.Time
	failReact string
}

func (f *fakeSender) post(dest string) kit.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, dest)
	return kit.MessageRef{ChannelID: "c", MessageID: strconv.Itoa(1000 + f.next)}
}

func (f *fakeSender) Send(ctx context.Context, channelID string, msg kit.Message) (kit.MessageRef, error) {
	return f.post("ch:" + channelID), nil
}

func (f *fakeSender) SendDM(ctx context.Context, userID string, msg kit.Message) (kit.MessageRef, error) {
	return f.post("dm:" + userID), nil
}

func (f *fakeSender) React(ctx context.Context, ref kit.MessageRef, e string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactAt = append(f.reactAt, time.Now())
	if e == f.failReact {
		return errors.New("unknown emoji")
	}
	f.reactions = append(f.reactions, e)
	return nil
}

func mapping(titles ...string) emoji.Mapping { return emoji.Assign(titles) }

func TestComposeAssignsAlphabetically(t *testing.T) {
	t.Parallel()

	msg, m := Compose([]string{"Zeta", "Alpha", "Mu"}, "Recently Updated Series", "")
	alphabet := emoji.Alphabet()
	want := []string{"Alpha", "Mu", "Zeta"}
	for i, p := range m {
		if p.Emoji != alphabet[i] || p.Title != want[i] {
			t.Fatalf("pair %d = %+v", i, p)
		}
	}
	if len(msg.Embeds) != 1 || msg.Embeds[0].Title != "Recently Updated Series" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestPersistEvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New(storage.NewMemory(), logx.Nop())
	for i := 1; i <= DefaultCapacity+1; i++ {
		r.Persist(ctx, kit.MessageRef{MessageID: strconv.Itoa(i)}, mapping("T"+strconv.Itoa(i)), Broadcast)
	}
	if r.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", r.Len(), DefaultCapacity)
	}
	if _, ok := r.Resolve("1", emoji.Alphabet()[0]); ok {
		t.Fatalf("oldest entry not evicted")
	}
	if _, ok := r.Resolve("2", emoji.Alphabet()[0]); !ok {
		t.Fatalf("second entry evicted")
	}
}

func TestEvictionFollowsInsertionNotIDOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New(storage.NewMemory(), logx.Nop(), WithCapacity(2))
	r.Persist(ctx, kit.MessageRef{MessageID: "900"}, mapping("A"), Broadcast)
	r.Persist(ctx, kit.MessageRef{MessageID: "100"}, mapping("B"), Broadcast)
	r.Persist(ctx, kit.MessageRef{MessageID: "500"}, mapping("C"), Broadcast)

	if _, ok := r.Resolve("900", emoji.Alphabet()[0]); ok {
		t.Fatalf("first inserted entry survived")
	}
	for _, id := range []string{"100", "500"} {
		if _, ok := r.Resolve(id, emoji.Alphabet()[0]); !ok {
			t.Fatalf("entry %s evicted", id)
		}
	}
}

func TestReloadRestoresMappings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storage.NewMemory()
	r := New(st, logx.Nop())
	r.Persist(ctx, kit.MessageRef{ChannelID: "dm1", MessageID: "42"}, mapping("Vagabond", "Berserk"), Direct)

	again := New(st, logx.Nop())
	if err := again.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, ok := again.Resolve("42", emoji.Alphabet()[1])
	if !ok {
		t.Fatalf("mapping not restored")
	}
	if res.Title != "Vagabond" || res.Context != Direct || res.ChannelID != "dm1" {
		t.Fatalf("resolution = %+v", res)
	}

	// Sequence numbers continue after a reload.
	again.Persist(ctx, kit.MessageRef{MessageID: "1"}, mapping("X"), Broadcast)
	if again.entries["1"].Seq <= again.entries["42"].Seq {
		t.Fatalf("seq did not advance: %d <= %d", again.entries["1"].Seq, again.entries["42"].Seq)
	}
}

func TestLoadToleratesMalformedDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.Save(ctx, storage.DocReactables, []byte(`["not","an","object"]`))
	r := New(st, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d", r.Len())
	}

	_ = st.Save(ctx, storage.DocReactables, []byte(`{"1":{"emoji_mapping":[{"emoji":"1️⃣","title":"A"}],"context":"elsewhere"},"2":{"emoji_mapping":[{"emoji":"1️⃣","title":"B"}],"context":"broadcast","seq":4}}`))
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("invalid entry kept: Len = %d", r.Len())
	}
}

func TestPersistKeepsEntryWhenSaveFails(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	st.SetFailSave(errors.New("read-only fs"))
	r := New(st, logx.Nop())
	r.Persist(context.Background(), kit.MessageRef{MessageID: "7"}, mapping("A"), Broadcast)
	if _, ok := r.Resolve("7", emoji.Alphabet()[0]); !ok {
		t.Fatalf("in-memory entry dropped after failed save")
	}
}

func TestPostAndTrackReactsInOrderWithThrottle(t *testing.T) {
	t.Parallel()

	const gap = 20 * time.Millisecond
	s := &fakeSender{failReact: emoji.Alphabet()[1]}
	r := New(storage.NewMemory(), logx.Nop(), WithReactionInterval(gap))
	msg, m := Compose([]string{"C", "B", "A"}, "Digest", "")

	start := time.Now()
	ref, err := r.PostAndTrack(context.Background(), s, Target{UserID: "u1"}, msg, m, Direct)
	if err != nil {
		t.Fatalf("PostAndTrack: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "dm:u1" {
		t.Fatalf("sent = %v", s.sent)
	}
	if len(s.reactAt) != 3 {
		t.Fatalf("react attempts = %d, want 3", len(s.reactAt))
	}
	if got := s.reactions; len(got) != 2 || got[0] != emoji.Alphabet()[0] || got[1] != emoji.Alphabet()[2] {
		t.Fatalf("reactions = %v", got)
	}
	if d := s.reactAt[0].Sub(start); d < gap-5*time.Millisecond {
		t.Fatalf("first reaction only %v after posting", d)
	}
	for i := 1; i < len(s.reactAt); i++ {
		if d := s.reactAt[i].Sub(s.reactAt[i-1]); d < gap-5*time.Millisecond {
			t.Fatalf("reaction %d only %v after previous", i, d)
		}
	}
	res, ok := r.Resolve(ref.MessageID, emoji.Alphabet()[2])
	if !ok || res.Title != "C" || res.Context != Direct {
		t.Fatalf("resolution = %+v, %v", res, ok)
	}
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()

	r := New(storage.NewMemory(), logx.Nop())
	r.Persist(context.Background(), kit.MessageRef{MessageID: "1"}, mapping("A"), Broadcast)
	if _, ok := r.Resolve("2", emoji.Alphabet()[0]); ok {
		t.Fatalf("unknown message resolved")
	}
	if _, ok := r.Resolve("1", "🦀"); ok {
		t.Fatalf("unmapped emoji resolved")
	}
}
