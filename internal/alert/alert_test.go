package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"kavitabot/internal/eventbus"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

type fakePager struct {
	mu    sync.Mutex
	fails int
	texts []string
}

func (f *fakePager) Page(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("unavailable")
	}
	f.texts = append(f.texts, text)
	return nil
}

func TestMultiSucceedsWhenAnyMemberDoes(t *testing.T) {
	t.Parallel()

	bad := &fakePager{fails: 1}
	good := &fakePager{}
	if err := (Multi{bad, good}).Page(context.Background(), "hi"); err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(good.texts) != 1 {
		t.Fatalf("good pager got %d pages", len(good.texts))
	}
	if err := (Multi{&fakePager{fails: 1}}).Page(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error when every member fails")
	}
	if err := (Multi{}).Page(context.Background(), "hi"); !errors.Is(err, ErrNoPager) {
		t.Fatalf("empty Multi err = %v", err)
	}
}

func TestServiceRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p := &fakePager{fails: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := NewService(Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, p, bus, logx.Nop())
	if err := s.Page(context.Background(), "kavita down"); err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(p.texts) != 1 {
		t.Fatalf("texts = %v", p.texts)
	}
	select {
	case e := <-events:
		if e.Type != TopicSent {
			t.Fatalf("event = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

func TestServiceGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	p := &fakePager{fails: 5}
	s := NewService(Config{RetryMax: 1, RetryBase: time.Millisecond, DedupWindow: time.Hour}, p, nil, logx.Nop())
	if err := s.Page(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
	if p.fails != 3 {
		t.Fatalf("attempts = %d, want 2", 5-p.fails)
	}
	// A failed page is not remembered for dedup.
	p.fails = 0
	if err := s.Page(context.Background(), "x"); err != nil || len(p.texts) != 1 {
		t.Fatalf("retry after failure: err=%v texts=%v", err, p.texts)
	}
}

func TestServiceSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	p := &fakePager{}
	s := NewService(Config{DedupWindow: time.Minute}, p, nil, logx.Nop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	_ = s.Page(ctx, "same")
	_ = s.Page(ctx, "same")
	_ = s.Page(ctx, "other")
	if len(p.texts) != 2 {
		t.Fatalf("texts = %v", p.texts)
	}
	now = now.Add(2 * time.Minute)
	_ = s.Page(ctx, "same")
	if len(p.texts) != 3 {
		t.Fatalf("page after window suppressed: %v", p.texts)
	}
}

type dmRecorder struct {
	user string
	text string
}

func (d *dmRecorder) Send(ctx context.Context, channelID string, msg kit.Message) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (d *dmRecorder) SendDM(ctx context.Context, userID string, msg kit.Message) (kit.MessageRef, error) {
	d.user, d.text = userID, msg.Content
	return kit.MessageRef{}, nil
}

func (d *dmRecorder) React(ctx context.Context, ref kit.MessageRef, emoji string) error { return nil }

func TestDiscordDM(t *testing.T) {
	t.Parallel()

	rec := &dmRecorder{}
	if err := (DiscordDM{Sender: rec, UserID: "42"}).Page(context.Background(), "help"); err != nil {
		t.Fatalf("Page: %v", err)
	}
	if rec.user != "42" || rec.text != "help" {
		t.Fatalf("recorded = %+v", rec)
	}
	if err := (DiscordDM{Sender: rec}).Page(context.Background(), "help"); !errors.Is(err, ErrNoPager) {
		t.Fatalf("err = %v", err)
	}
}

func TestTelegramSendsToChat(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		got  []map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		path = r.URL.Path
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: -100, ThreadID: 7, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Page(context.Background(), "kavita unreachable"); err != nil {
		t.Fatalf("Page: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "/sendMessage") || len(got) != 1 {
		t.Fatalf("path=%s requests=%d", path, len(got))
	}
	if got[0]["text"] != "kavita unreachable" {
		t.Fatalf("body = %v", got[0])
	}
}

func TestNewTelegramValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "x"}); err == nil {
		t.Fatalf("expected chat error")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("a", 30) + "\n"
	s := strings.Repeat(line, 10)
	chunks := splitText(s, 100)
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk too long: %d", len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if got := splitText("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %v", got)
	}
}
