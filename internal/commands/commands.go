// Package commands implements the slash commands, the scheduled command
// actions and the follow-ups for reactions on digest messages.
//
// Every entry point turns its request into loop work: Kavita calls happen in
// the fetch stage on the worker pool, and all chat output happens in the
// returned deliver stage on the loop goroutine.
package commands

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"kavitabot/internal/alert"
	"kavitabot/internal/kavita"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	"kavitabot/internal/subscription"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

// Library is the part of the Kavita client the commands use.
type Library interface {
	subscription.Library

	Authenticate(ctx context.Context) error
	Authenticated() bool
	PublicURL() string

	ServerStats(ctx context.Context) (kavita.ServerStats, error)
	Health(ctx context.Context) error
	SeriesDetail(ctx context.Context, id int) (kavita.SeriesDetail, error)
	ChapterSummary(ctx context.Context, chapterID int) (string, error)
	ChapterCover(ctx context.Context, chapterID int) ([]byte, error)
	Search(ctx context.Context, query string) (kavita.SearchResult, error)
	RecentlyUpdated(ctx context.Context) ([]kavita.RecentSeries, error)
	NextExpected(ctx context.Context, id int) (kavita.NextExpected, error)
	Libraries(ctx context.Context) ([]kavita.Library, error)
	SeriesInLibrary(ctx context.Context, libraryID int) ([]kavita.Series, error)
	Invite(ctx context.Context, email string, libraries []int) (kavita.InviteOutcome, error)
}

// Chat is the outbound half of the chat adapter.
type Chat interface {
	kit.Sender
	kit.Responder
}

// Submitter queues work on the event loop, waiting for room.
type Submitter interface {
	Submit(ctx context.Context, w *loop.Work) error
}

// Observer counts command and reaction outcomes.
type Observer interface {
	Command(name string, err error)
	Reaction(context string)
}

// Settings are the config-derived knobs. They can change on reload.
type Settings struct {
	AdminUserID     string
	InviteLibraries []int
	StatsExclude    string
	RandomLibrary   string
	CommandTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.RandomLibrary == "" {
		s.RandomLibrary = "Manga"
	}
	if s.StatsExclude == "" {
		s.StatsExclude = "/doujinshi/"
	}
	if s.CommandTimeout <= 0 {
		s.CommandTimeout = 45 * time.Second
	}
	return s
}

type Deps struct {
	Library    Library
	Chat       Chat
	Loop       Submitter
	Subs       *subscription.Manager
	Notifier   *subscription.Notifier
	Reactables *reactable.Registry
	Pager      alert.Pager
	Observer   Observer
	Status     func() render.BotStatus
	Self       func() string
	Log        logx.Logger
}

type Service struct {
	lib   Library
	chat  Chat
	loop  Submitter
	subs  *subscription.Manager
	notif *subscription.Notifier
	reg   *reactable.Registry
	pager alert.Pager
	obs   Observer
	stat  func() render.BotStatus
	self  func() string
	log   logx.Logger

	settings atomic.Pointer[Settings]
	routes   map[string]route

	now  func() time.Time
	pick func(n int) int
}

func New(d Deps, st Settings) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Self == nil {
		d.Self = func() string { return "" }
	}
	if d.Status == nil {
		d.Status = func() render.BotStatus { return render.BotStatus{} }
	}
	s := &Service{
		lib:   d.Library,
		chat:  d.Chat,
		loop:  d.Loop,
		subs:  d.Subs,
		notif: d.Notifier,
		reg:   d.Reactables,
		pager: d.Pager,
		obs:   d.Observer,
		stat:  d.Status,
		self:  d.Self,
		log:   d.Log,
		now:   time.Now,
		pick:  rand.IntN,
	}
	s.SetSettings(st)
	s.routes = s.table()
	return s
}

// SetSettings swaps the settings used by subsequent requests.
func (s *Service) SetSettings(st Settings) {
	st = st.withDefaults()
	s.settings.Store(&st)
}

func (s *Service) cfg() Settings { return *s.settings.Load() }

func (s *Service) observeCommand(name string, err error) {
	if s.obs != nil {
		s.obs.Command(name, err)
	}
}

func (s *Service) observeReaction(c reactable.Context) {
	if s.obs != nil {
		s.obs.Reaction(string(c))
	}
}
