package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kavitabot/internal/kavita"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	"kavitabot/internal/storage"
	"kavitabot/internal/subscription"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) kavita.Time { return kavita.Time{Time: testNow.Add(-d)} }

type fakeLib struct {
	mu sync.Mutex

	series  map[int]kavita.Series
	details map[int]kavita.SeriesDetail
	search  map[string][]kavita.SearchHit
	stats   kavita.ServerStats
	recent  []kavita.RecentSeries
	libs    []kavita.Library
	inLib   map[int][]kavita.Series
	next    kavita.NextExpected
	failAll error

	inviteOutcome kavita.InviteOutcome
	inviteErr     error
	invited       []string

	authed    bool
	authErr   error
	authCalls int
	healthErr error

	coverCalls   int
	chapterCalls int
}

func newFakeLib() *fakeLib {
	day := 24 * time.Hour
	return &fakeLib{
		series: map[int]kavita.Series{
			1: {ID: 1, Name: "Berserk", LibraryID: 3},
			2: {ID: 2, Name: "Vagabond", LibraryID: 3},
			3: {ID: 3, Name: "Monster", LibraryID: 4},
			4: {ID: 4, Name: "Hidden", LibraryID: 5, FolderPath: "/doujinshi/hidden"},
		},
		details: map[int]kavita.SeriesDetail{
			1: {Chapters: []kavita.Chapter{
				{ID: 11, Number: "11", Created: at(1 * day)},
				{ID: 12, Number: "12", Created: at(3 * day)},
				{ID: 13, Number: "13", Created: at(10 * day)},
				{ID: 14, Number: "14", Created: at(20 * day)},
			}},
			2: {Chapters: []kavita.Chapter{
				{ID: 21, Number: "1", Created: at(30 * day)},
				{ID: 22, Number: "2", Created: at(40 * day)},
				{ID: 23, Number: "3", Created: at(50 * day)},
			}},
		},
		search: map[string][]kavita.SearchHit{},
		libs:   []kavita.Library{{ID: 3, Name: "Manga"}, {ID: 4, Name: "Comics"}},
		inLib: map[int][]kavita.Series{
			3: {{ID: 1, Name: "Berserk", LibraryID: 3}, {ID: 2, Name: "Vagabond", LibraryID: 3}},
		},
		inviteOutcome: kavita.InviteSent,
		authed:        true,
	}
}

func (f *fakeLib) FindSeries(ctx context.Context, name string) (kavita.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return kavita.SearchHit{}, f.failAll
	}
	for _, s := range f.series {
		if strings.EqualFold(s.Name, name) {
			return kavita.SearchHit{SeriesID: s.ID, Name: s.Name, LibraryID: s.LibraryID}, nil
		}
	}
	return kavita.SearchHit{}, kavita.ErrNotFound
}

func (f *fakeLib) Series(ctx context.Context, id int) (kavita.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return kavita.Series{}, f.failAll
	}
	s, ok := f.series[id]
	if !ok {
		return kavita.Series{}, kavita.ErrNotFound
	}
	return s, nil
}

func (f *fakeLib) SeriesMetadata(ctx context.Context, id int) (kavita.SeriesMetadata, error) {
	if f.failAll != nil {
		return kavita.SeriesMetadata{}, f.failAll
	}
	return kavita.SeriesMetadata{SeriesID: id, Summary: fmt.Sprintf("summary %d", id)}, nil
}

func (f *fakeLib) SeriesCover(ctx context.Context, id int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverCalls++
	return []byte{byte(id)}, nil
}

func (f *fakeLib) SeriesURL(libraryID, seriesID int) string {
	return fmt.Sprintf("https://k/library/%d/series/%d", libraryID, seriesID)
}

func (f *fakeLib) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return f.authErr
	}
	f.authed = true
	return nil
}

func (f *fakeLib) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeLib) PublicURL() string { return "https://manga.example" }

func (f *fakeLib) ServerStats(ctx context.Context) (kavita.ServerStats, error) {
	if f.failAll != nil {
		return kavita.ServerStats{}, f.failAll
	}
	return f.stats, nil
}

func (f *fakeLib) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeLib) SeriesDetail(ctx context.Context, id int) (kavita.SeriesDetail, error) {
	if f.failAll != nil {
		return kavita.SeriesDetail{}, f.failAll
	}
	return f.details[id], nil
}

func (f *fakeLib) ChapterSummary(ctx context.Context, chapterID int) (string, error) {
	return fmt.Sprintf("chapter %d summary", chapterID), nil
}

func (f *fakeLib) ChapterCover(ctx context.Context, chapterID int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chapterCalls++
	return nil, kavita.ErrNotFound
}

func (f *fakeLib) Search(ctx context.Context, query string) (kavita.SearchResult, error) {
	if f.failAll != nil {
		return kavita.SearchResult{}, f.failAll
	}
	return kavita.SearchResult{Series: f.search[strings.ToLower(query)]}, nil
}

func (f *fakeLib) RecentlyUpdated(ctx context.Context) ([]kavita.RecentSeries, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	return f.recent, nil
}

func (f *fakeLib) NextExpected(ctx context.Context, id int) (kavita.NextExpected, error) {
	return f.next, nil
}

func (f *fakeLib) Libraries(ctx context.Context) ([]kavita.Library, error) { return f.libs, nil }

func (f *fakeLib) SeriesInLibrary(ctx context.Context, libraryID int) ([]kavita.Series, error) {
	return f.inLib[libraryID], nil
}

func (f *fakeLib) Invite(ctx context.Context, email string, libraries []int) (kavita.InviteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited = append(f.invited, email)
	return f.inviteOutcome, f.inviteErr
}

type sentMessage struct {
	to  string
	dm  bool
	msg kit.Message
}

type fakeChat struct {
	mu        sync.Mutex
	replies   []kit.Message
	sent      []sentMessage
	reactions []string
	seq       int
}

func (c *fakeChat) post(to string, dm bool, msg kit.Message) kit.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.sent = append(c.sent, sentMessage{to: to, dm: dm, msg: msg})
	return kit.MessageRef{ChannelID: to, MessageID: fmt.Sprint(100 + c.seq)}
}

func (c *fakeChat) Send(ctx context.Context, channelID string, msg kit.Message) (kit.MessageRef, error) {
	return c.post(channelID, false, msg), nil
}

func (c *fakeChat) SendDM(ctx context.Context, userID string, msg kit.Message) (kit.MessageRef, error) {
	return c.post(userID, true, msg), nil
}

func (c *fakeChat) React(ctx context.Context, ref kit.MessageRef, e string) error {
	c.mu.Lock()
	c.reactions = append(c.reactions, e)
	c.mu.Unlock()
	return nil
}

func (c *fakeChat) Reply(ctx context.Context, cmd *kit.Command, msg kit.Message) error {
	c.mu.Lock()
	c.replies = append(c.replies, msg)
	c.mu.Unlock()
	return nil
}

// syncLoop runs both stages inline.
type syncLoop struct{ err error }

func (l syncLoop) Submit(ctx context.Context, w *loop.Work) error {
	if l.err != nil {
		return l.err
	}
	d, err := w.Fetch(ctx)
	if err == nil && d != nil {
		err = d(ctx)
	}
	if w.Done != nil {
		w.Done(err)
	}
	return nil
}

type fakePager struct {
	mu    sync.Mutex
	pages []string
	err   error
}

func (p *fakePager) Page(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, text)
	return p.err
}

type countObs struct {
	mu        sync.Mutex
	commands  map[string][]error
	reactions []string
	fanOut    map[string]int
}

func (o *countObs) Command(name string, err error) {
	o.mu.Lock()
	o.commands[name] = append(o.commands[name], err)
	o.mu.Unlock()
}

func (o *countObs) Reaction(c string) {
	o.mu.Lock()
	o.reactions = append(o.reactions, c)
	o.mu.Unlock()
}

func (o *countObs) FanOut(outcome string) {
	o.mu.Lock()
	o.fanOut[outcome]++
	o.mu.Unlock()
}

type harness struct {
	svc   *Service
	lib   *fakeLib
	chat  *fakeChat
	subs  *subscription.Manager
	reg   *reactable.Registry
	pager *fakePager
	obs   *countObs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		lib:   newFakeLib(),
		chat:  &fakeChat{},
		pager: &fakePager{},
		obs:   &countObs{commands: map[string][]error{}, fanOut: map[string]int{}},
	}
	h.subs = subscription.New(storage.NewMemory(), h.lib, logx.Nop())
	if err := h.subs.Load(ctx); err != nil {
		t.Fatalf("subs Load: %v", err)
	}
	h.reg = reactable.New(storage.NewMemory(), logx.Nop(), reactable.WithReactionInterval(time.Millisecond))
	if err := h.reg.Load(ctx); err != nil {
		t.Fatalf("registry Load: %v", err)
	}
	h.svc = New(Deps{
		Library:    h.lib,
		Chat:       h.chat,
		Loop:       syncLoop{},
		Subs:       h.subs,
		Notifier:   subscription.NewNotifier(h.subs, h.lib, h.reg, h.obs, logx.Nop()),
		Reactables: h.reg,
		Pager:      h.pager,
		Observer:   h.obs,
		Status:     func() render.BotStatus { return render.BotStatus{Version: "test", Started: testNow, Authenticated: true} },
		Self:       func() string { return "bot" },
	}, Settings{InviteLibraries: []int{3, 4}})
	h.svc.now = func() time.Time { return testNow }
	h.svc.pick = func(n int) int { return n - 1 }
	return h
}

func command(name string, opts map[string]kit.Option) *kit.Command {
	return &kit.Command{Name: name, Options: opts, UserID: "u1", Username: "reader", ChannelID: "c1", GuildID: "g1"}
}

func (h *harness) run(t *testing.T, cmd *kit.Command) []kit.Message {
	t.Helper()
	if err := h.svc.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("Dispatch(%s): %v", cmd.Name, err)
	}
	h.chat.mu.Lock()
	defer h.chat.mu.Unlock()
	out := h.chat.replies
	h.chat.replies = nil
	return out
}

func onlyText(t *testing.T, msgs []kit.Message) string {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1: %+v", len(msgs), msgs)
	}
	return msgs[0].Content
}

func TestMangaSearchNoResultsFetchesNoCover(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got := onlyText(t, h.run(t, command(MangaSearch, map[string]kit.Option{"query": {String: "nothing"}})))
	if got != "No search results found for `nothing`" {
		t.Fatalf("reply = %q", got)
	}
	if h.lib.coverCalls != 0 {
		t.Fatalf("cover fetched %d times for empty result", h.lib.coverCalls)
	}
}

func TestMangaSearchListsHitsAndCardsFirstThree(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lib.search["b"] = []kavita.SearchHit{
		{SeriesID: 1, Name: "Berserk", LibraryID: 3, LibraryName: "Manga"},
		{SeriesID: 2, Name: "Vagabond", LibraryID: 3},
		{SeriesID: 3, Name: "Monster", LibraryID: 4},
		{SeriesID: 4, Name: "Hidden", LibraryID: 5},
	}
	msgs := h.run(t, command(MangaSearch, map[string]kit.Option{"query": {String: "b"}}))
	if len(msgs) != 4 {
		t.Fatalf("got %d replies, want list + 3 cards", len(msgs))
	}
	if title := msgs[0].Embeds[0].Title; title != "4 results for `b`" {
		t.Fatalf("list title = %q", title)
	}
	if msgs[1].Embeds[0].Title != "Berserk" || msgs[3].Embeds[0].Title != "Monster" {
		t.Fatalf("cards out of order: %q, %q", msgs[1].Embeds[0].Title, msgs[3].Embeds[0].Title)
	}
	if h.lib.coverCalls != 3 {
		t.Fatalf("cover calls = %d, want 3", h.lib.coverCalls)
	}
}

func TestHandlerErrorBecomesPlainReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	upstream := &kavita.StatusError{Op: "server_stats", Status: 502, Body: "bad gateway"}
	h.lib.failAll = upstream
	got := onlyText(t, h.run(t, command(ServerStats, nil)))
	if got != msgUnavailable {
		t.Fatalf("reply = %q", got)
	}
	errs := h.obs.commands[ServerStats]
	if len(errs) != 1 || !errors.Is(errs[0], upstream) {
		t.Fatalf("observed = %v", errs)
	}
}

func TestSeriesInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      map[string]kit.Option
		wantText  string
		wantTitle string
		verbose   bool
	}{
		{name: "no series given", wantText: "Give a series name or a series id."},
		{name: "unknown name", opts: map[string]kit.Option{"series_name": {String: "nope"}}, wantText: msgNotFound},
		{name: "by name", opts: map[string]kit.Option{"series_name": {String: "berserk"}}, wantTitle: "Berserk"},
		{name: "by id", opts: map[string]kit.Option{"series_id": {Int: 2}}, wantTitle: "Vagabond"},
		{
			name:      "verbose",
			opts:      map[string]kit.Option{"series_id": {Int: 1}, "verbose": {Bool: true}},
			wantTitle: "Berserk",
			verbose:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			msgs := h.run(t, command(SeriesInfo, tt.opts))
			if tt.wantText != "" {
				if got := onlyText(t, msgs); got != tt.wantText {
					t.Fatalf("reply = %q, want %q", got, tt.wantText)
				}
				return
			}
			if len(msgs) != 1 || len(msgs[0].Embeds) != 1 {
				t.Fatalf("replies = %+v", msgs)
			}
			e := msgs[0].Embeds[0]
			if e.Title != tt.wantTitle {
				t.Fatalf("title = %q, want %q", e.Title, tt.wantTitle)
			}
			hasChapters := false
			for _, f := range e.Fields {
				if f.Name == "Chapters" {
					hasChapters = f.Value == "4"
				}
			}
			if hasChapters != tt.verbose {
				t.Fatalf("verbose fields = %+v", e.Fields)
			}
		})
	}
}

func TestNextUpdateWithoutPrediction(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got := onlyText(t, h.run(t, command(NextUpdate, map[string]kit.Option{"series_id": {Int: 1}})))
	if !strings.Contains(got, "No current chapter update info is known for Berserk (1)") {
		t.Fatalf("reply = %q", got)
	}
}

func TestInviteMe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		email     string
		outcome   kavita.InviteOutcome
		err       error
		want      string
		wantCalls int
	}{
		{name: "invalid", email: "not an email", want: "`not an email` is not a valid email address."},
		{name: "display name rejected", email: "Reader <r@example.com>", want: "`Reader <r@example.com>` is not a valid email address."},
		{name: "single label domain", email: "a@b", want: "`a@b` is not a valid email address."},
		{name: "localhost", email: "user@localhost", want: "`user@localhost` is not a valid email address."},
		{name: "hyphen edged label", email: "x@-bad-.com", want: "`x@-bad-.com` is not a valid email address."},
		{name: "sent", email: "r@example.com", outcome: kavita.InviteSent, want: "An invite has been sent to `r@example.com`", wantCalls: 1},
		{name: "exists", email: "r@example.com", outcome: kavita.InviteExists, want: "already exists", wantCalls: 1},
		{
			name: "failure", email: "r@example.com", outcome: kavita.InviteFailed,
			err: &kavita.StatusError{Status: 500}, want: "The invite could not be sent", wantCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.lib.inviteOutcome, h.lib.inviteErr = tt.outcome, tt.err
			msgs := h.run(t, command(InviteMe, map[string]kit.Option{"email": {String: tt.email}}))
			if got := onlyText(t, msgs); !strings.Contains(got, tt.want) {
				t.Fatalf("reply = %q, want it to contain %q", got, tt.want)
			}
			if !msgs[0].Ephemeral {
				t.Fatalf("invite reply is not ephemeral")
			}
			if len(h.lib.invited) != tt.wantCalls {
				t.Fatalf("invite calls = %d, want %d", len(h.lib.invited), tt.wantCalls)
			}
		})
	}
}

func TestDeliverableEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"reader@example.com", true},
		{"first.last+manga@mail.example.co.uk", true},
		{"", false},
		{"reader", false},
		{"a@b", false},
		{"user@localhost", false},
		{"user@box.local", false},
		{"x@-bad-.com", false},
		{"x@bad-.com", false},
		{"user@example..com", false},
		{"Reader <reader@example.com>", false},
	}
	for _, tt := range tests {
		if got := deliverableEmail(tt.in); got != tt.want {
			t.Fatalf("deliverableEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNotificationCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	opt := func(v string) map[string]kit.Option { return map[string]kit.Option{"series": {String: v}} }

	steps := []struct {
		cmd  *kit.Command
		want string
	}{
		{command(ListNotifications, nil), msgNoSubs},
		{command(NotifyMe, opt("Berserk")), "You will get a direct message with updates for **Berserk**."},
		{command(NotifyMe, opt("1")), "You are already subscribed to **Berserk**."},
		{command(NotifyMe, opt("2")), "You will get a direct message with updates for **Vagabond**."},
		{command(NotifyMe, opt("99")), msgNotFound},
		{command(NotifyMe, opt("unknown title")), msgNotFound},
		{command(RemoveNotification, opt("Monster")), "You are not subscribed to **Monster**."},
		{command(NotificationToggle, map[string]kit.Option{"enabled": {Bool: false}}), "Your notifications are now paused."},
		{command(NotificationToggle, map[string]kit.Option{"enabled": {Bool: false}}), "Your notifications are already paused."},
		{command(RemoveNotification, opt("all")), "All your notifications have been removed."},
		{command(RemoveNotification, opt("all")), msgNoSubs},
		{command(NotificationToggle, map[string]kit.Option{"enabled": {Bool: true}}), msgNoSubs},
	}
	for i, st := range steps {
		if got := onlyText(t, h.run(t, st.cmd)); got != st.want {
			t.Fatalf("step %d (%s): reply = %q, want %q", i, st.cmd.Name, got, st.want)
		}
	}
	if _, ok := h.subs.Get("u1"); ok {
		t.Fatalf("record kept after removing all")
	}
}

func TestListNotificationsRendersSeries(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	if _, _, err := h.subs.Subscribe(ctx, "u1", subscription.Ref{ID: 1}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	msgs := h.run(t, command(ListNotifications, nil))
	if len(msgs) != 1 || len(msgs[0].Embeds) != 1 || !msgs[0].Ephemeral {
		t.Fatalf("replies = %+v", msgs)
	}
	if d := msgs[0].Embeds[0].Description; !strings.Contains(d, "Berserk (`1`)") {
		t.Fatalf("description = %q", d)
	}
}

func TestRandomManga(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	msgs := h.run(t, command(RandomManga, nil))
	if len(msgs) != 1 || msgs[0].Embeds[0].Title != "Vagabond" {
		t.Fatalf("replies = %+v", msgs)
	}
	got := onlyText(t, h.run(t, command(RandomManga, map[string]kit.Option{"library": {String: "Novels"}})))
	if got != "No library named `Novels`." {
		t.Fatalf("reply = %q", got)
	}
	got = onlyText(t, h.run(t, command(RandomManga, map[string]kit.Option{"library": {String: "comics"}})))
	if got != "Library `comics` has no series." {
		t.Fatalf("reply = %q", got)
	}
}

func TestAddMangaPagesAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got := onlyText(t, h.run(t, command(AddManga, map[string]kit.Option{
		"title": {String: "Blame!"},
		"link":  {String: "https://example.com/blame"},
	})))
	if got != "Your request for **Blame!** was sent to the admin." {
		t.Fatalf("reply = %q", got)
	}
	if len(h.pager.pages) != 1 || !strings.Contains(h.pager.pages[0], "reader (u1): Blame!\nhttps://example.com/blame") {
		t.Fatalf("pages = %q", h.pager.pages)
	}

	h.pager.err = errors.New("telegram down")
	got = onlyText(t, h.run(t, command(AddManga, map[string]kit.Option{"title": {String: "Blame!"}})))
	if got != "Your request could not be forwarded. Please try again later." {
		t.Fatalf("reply = %q", got)
	}
}

func TestServerAddressAndBotInfo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	msgs := h.run(t, command(ServerAddress, nil))
	if len(msgs) != 1 || msgs[0].Embeds[0].URL != "https://manga.example" {
		t.Fatalf("server-address replies = %+v", msgs)
	}
	msgs = h.run(t, command(BotInfo, nil))
	if len(msgs) != 1 || msgs[0].Embeds[0].Fields[0].Value != "test" {
		t.Fatalf("bot-info replies = %+v", msgs)
	}
}

func TestRecentlyUpdatedCommandPostsDigest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.lib.recent = []kavita.RecentSeries{
		{SeriesID: 2, SeriesName: "Vagabond"},
		{SeriesID: 1, SeriesName: "Berserk"},
		{SeriesID: 2, SeriesName: "Vagabond"},
	}
	got := onlyText(t, h.run(t, command(RecentlyUpdated, nil)))
	if got != recentPosting {
		t.Fatalf("reply = %q", got)
	}
	if len(h.chat.sent) != 1 || h.chat.sent[0].to != "c1" {
		t.Fatalf("sent = %+v", h.chat.sent)
	}
	if len(h.chat.reactions) != 2 || h.reg.Len() != 1 {
		t.Fatalf("reactions = %v, tracked = %d", h.chat.reactions, h.reg.Len())
	}
}

func TestDispatchUnknownAndRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.svc.Dispatch(context.Background(), command("nope", nil)); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	h.svc.loop = syncLoop{err: loop.ErrQueueFull}
	if err := h.svc.Dispatch(context.Background(), command(BotInfo, nil)); !errors.Is(err, loop.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if errs := h.obs.commands[BotInfo]; len(errs) != 1 || !errors.Is(errs[0], loop.ErrQueueFull) {
		t.Fatalf("observed = %v", errs)
	}
}

func TestSpecsListEveryCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	specs := h.svc.Specs()
	if len(specs) != len(commandOrder) {
		t.Fatalf("specs = %d, want %d", len(specs), len(commandOrder))
	}
	ephemeral := map[string]bool{}
	for _, s := range specs {
		if s.Description == "" {
			t.Fatalf("%s has no description", s.Name)
		}
		ephemeral[s.Name] = s.Ephemeral
	}
	for _, name := range []string{InviteMe, NotifyMe, ListNotifications} {
		if !ephemeral[name] {
			t.Fatalf("%s should reply ephemerally", name)
		}
	}
	if ephemeral[ServerStats] {
		t.Fatalf("server-stats should reply publicly")
	}
}
