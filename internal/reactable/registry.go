// Package reactable tracks digest messages whose emoji reactions map back
// to series titles. The registry is bounded and persisted so reactions on
// messages from an earlier run still resolve.
package reactable

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kavitabot/internal/emoji"
	"kavitabot/internal/render"
	"kavitabot/internal/storage"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

// Context selects how much detail a resolved reaction shows.
type Context string

const (
	Broadcast Context = "broadcast"
	Direct    Context = "direct"
)

func (c Context) valid() bool { return c == Broadcast || c == Direct }

const (
	DefaultCapacity         = 20
	DefaultReactionInterval = 150 * time.Millisecond
)

type entry struct {
	Mapping   emoji.Mapping `json:"emoji_mapping"`
	Context   Context       `json:"context"`
	Seq       uint64        `json:"seq"`
	ChannelID string        `json:"channel_id,omitempty"`
}

// Resolution is a reaction resolved to a title.
type Resolution struct {
	MessageID string
	ChannelID string
	Title     string
	Context   Context
}

// Target is where a digest goes: a channel, or a user's DMs when UserID is
// set.
type Target struct {
	ChannelID string
	UserID    string
}

type Option func(*Registry)

func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithReactionInterval sets the gap between reactions added to one message.
func WithReactionInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

type Registry struct {
	store    storage.Store
	log      logx.Logger
	capacity int
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64

	saveMu sync.Mutex
}

func New(store storage.Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		store:    store,
		log:      log,
		capacity: DefaultCapacity,
		interval: DefaultReactionInterval,
		entries:  map[string]*entry{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Load replaces the in-memory registry with the persisted one. A missing
// document is an empty registry; a malformed one is logged and ignored.
func (r *Registry) Load(ctx context.Context) error {
	b, err := r.store.Load(ctx, storage.DocReactables)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var raw map[string]*entry
	if err := json.Unmarshal(b, &raw); err != nil {
		r.log.Error("reactable registry malformed; starting empty", logx.Err(err))
		return nil
	}

	loaded := make(map[string]*entry, len(raw))
	var maxSeq uint64
	for id, e := range raw {
		if e == nil || !e.Context.valid() || len(e.Mapping) == 0 {
			r.log.Warn("dropping invalid reactable entry", logx.String("message_id", id))
			continue
		}
		loaded[id] = e
		maxSeq = max(maxSeq, e.Seq)
	}

	r.mu.Lock()
	r.entries = loaded
	r.seq = maxSeq
	evicted := r.evictLocked()
	n := len(r.entries)
	r.mu.Unlock()

	r.log.Info("reactable registry loaded", logx.Int("entries", n), logx.Int("evicted", len(evicted)))
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Compose builds the digest message for names and the emoji mapping that
// goes with it. Names past the emoji alphabet are dropped.
func Compose(names []string, title, description string) (kit.Message, emoji.Mapping) {
	m := emoji.Assign(names)
	return render.Digest(title, description, m), m
}

// PostAndTrack sends msg, adds one reaction per mapped emoji (throttled),
// and records the mapping. A failed reaction is logged and skipped; the
// message stays tracked.
func (r *Registry) PostAndTrack(ctx context.Context, s kit.Sender, to Target, msg kit.Message, m emoji.Mapping, c Context) (kit.MessageRef, error) {
	var (
		ref kit.MessageRef
		err error
	)
	if to.UserID != "" {
		ref, err = s.SendDM(ctx, to.UserID, msg)
	} else {
		ref, err = s.Send(ctx, to.ChannelID, msg)
	}
	if err != nil {
		return kit.MessageRef{}, err
	}

	// Start empty so the first reaction also waits one interval.
	lim := rate.NewLimiter(rate.Every(r.interval), 1)
	lim.Allow()
	for _, sym := range m.Emojis() {
		if err := lim.Wait(ctx); err != nil {
			r.log.Warn("reaction throttle interrupted", logx.String("message_id", ref.MessageID), logx.Err(err))
			break
		}
		if err := s.React(ctx, ref, sym); err != nil {
			r.log.Warn("add reaction failed", logx.String("message_id", ref.MessageID), logx.String("emoji", sym), logx.Err(err))
		}
	}

	r.Persist(ctx, ref, m, c)
	return ref, nil
}

// Persist inserts the mapping, evicts the oldest entries past capacity and
// writes the registry through. A write failure is logged; the in-memory
// entry is kept.
func (r *Registry) Persist(ctx context.Context, ref kit.MessageRef, m emoji.Mapping, c Context) {
	if !c.valid() {
		c = Broadcast
	}
	r.mu.Lock()
	r.seq++
	r.entries[ref.MessageID] = &entry{
		Mapping:   append(emoji.Mapping(nil), m...),
		Context:   c,
		Seq:       r.seq,
		ChannelID: ref.ChannelID,
	}
	evicted := r.evictLocked()
	r.mu.Unlock()

	for _, id := range evicted {
		r.log.Debug("reactable evicted", logx.String("message_id", id))
	}
	if err := r.flush(ctx); err != nil {
		r.log.Error("persist reactable registry failed", logx.String("message_id", ref.MessageID), logx.Err(err))
	}
}

// Resolve maps a reaction to its title.
func (r *Registry) Resolve(messageID, symbol string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[messageID]
	if !ok {
		return Resolution{}, false
	}
	title, ok := e.Mapping.Lookup(symbol)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{MessageID: messageID, ChannelID: e.ChannelID, Title: title, Context: e.Context}, true
}

// evictLocked drops entries in insertion order until the registry fits.
func (r *Registry) evictLocked() []string {
	over := len(r.entries) - r.capacity
	if over <= 0 {
		return nil
	}
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.entries[ids[i]], r.entries[ids[j]]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return idLess(ids[i], ids[j])
	})
	for _, id := range ids[:over] {
		delete(r.entries, id)
	}
	return ids[:over]
}

// idLess orders numeric ids numerically and anything else lexically.
func idLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return x < y
	}
	return a < b
}

func (r *Registry) flush(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	b, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.store.Save(ctx, storage.DocReactables, b)
}
