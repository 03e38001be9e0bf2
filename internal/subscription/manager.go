// Package subscription stores per-user series subscriptions and delivers
// the nightly notification fan-out.
package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"kavitabot/internal/kavita"
	"kavitabot/internal/render"
	"kavitabot/internal/storage"
	logx "kavitabot/pkg/logx"
)

var (
	ErrSeriesNotFound  = errors.New("no series found")
	ErrNoSubscriptions = errors.New("no subscriptions")
	ErrInvalidShape    = errors.New("subscriptions: invalid document shape")
)

type AddResult int

const (
	Added AddResult = iota + 1
	AlreadyExists
)

type RemoveResult int

const (
	Removed RemoveResult = iota + 1
	NotSubscribed
	NoSubscriptions
)

// Record is one user's stored state.
type Record struct {
	Enabled bool  `json:"enabled"`
	Series  []int `json:"series"`
}

// Ref names a series by id or, when ID is zero, by a name resolved through
// search. The name "all" selects every subscription on removal.
type Ref struct {
	ID   int
	Name string
}

func (r Ref) All() bool { return r.ID == 0 && strings.EqualFold(strings.TrimSpace(r.Name), "all") }

func (r Ref) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("series %d", r.ID)
	}
	return r.Name
}

// Library is the slice of the Kavita client the package uses.
type Library interface {
	FindSeries(ctx context.Context, name string) (kavita.SearchHit, error)
	Series(ctx context.Context, id int) (kavita.Series, error)
	SeriesMetadata(ctx context.Context, id int) (kavita.SeriesMetadata, error)
	SeriesCover(ctx context.Context, id int) ([]byte, error)
	SeriesURL(libraryID, seriesID int) string
}

// Subscribed identifies the series a command acted on.
type Subscribed struct {
	SeriesID int
	Name     string
}

type Manager struct {
	store storage.Store
	lib   Library
	log   logx.Logger

	mu      sync.Mutex
	records map[string]*Record
}

func New(store storage.Store, lib Library, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: store, lib: lib, log: log, records: map[string]*Record{}}
}

// Load reads the subscriptions document. A document that does not match
// the record shape is logged and the store starts empty.
func (m *Manager) Load(ctx context.Context) error {
	b, err := m.store.Load(ctx, storage.DocSubscriptions)
	if errors.Is(err, storage.ErrNotFound) {
		m.replace(map[string]*Record{})
		return nil
	}
	if err != nil {
		return err
	}
	recs, err := decodeRecords(b)
	if err != nil {
		m.log.Error("subscriptions rejected; starting empty", logx.Err(err))
		m.replace(map[string]*Record{})
		return nil
	}
	m.replace(recs)
	m.log.Info("subscriptions loaded", logx.Int("users", len(recs)))
	return nil
}

func (m *Manager) replace(recs map[string]*Record) {
	m.mu.Lock()
	m.records = recs
	m.mu.Unlock()
}

func decodeRecords(b []byte) (map[string]*Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document is null", ErrInvalidShape)
	}
	out := make(map[string]*Record, len(raw))
	for user, v := range raw {
		if strings.TrimSpace(user) == "" {
			return nil, fmt.Errorf("%w: empty user id", ErrInvalidShape)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(v, &fields); err != nil {
			return nil, fmt.Errorf("%w: user %s: %v", ErrInvalidShape, user, err)
		}
		if _, ok := fields["enabled"]; !ok {
			return nil, fmt.Errorf("%w: user %s: missing enabled", ErrInvalidShape, user)
		}
		if _, ok := fields["series"]; !ok {
			return nil, fmt.Errorf("%w: user %s: missing series", ErrInvalidShape, user)
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.DisallowUnknownFields()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: user %s: %v", ErrInvalidShape, user, err)
		}
		seen := map[int]bool{}
		for _, id := range rec.Series {
			if id <= 0 || seen[id] {
				return nil, fmt.Errorf("%w: user %s: bad or duplicate series id %d", ErrInvalidShape, user, id)
			}
			seen[id] = true
		}
		if len(rec.Series) == 0 {
			continue
		}
		out[user] = &rec
	}
	return out, nil
}

// saveLocked writes every record. Callers hold m.mu.
func (m *Manager) saveLocked(ctx context.Context) error {
	b, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return err
	}
	return m.store.Save(ctx, storage.DocSubscriptions, b)
}

func (m *Manager) resolve(ctx context.Context, ref Ref) (Subscribed, error) {
	if ref.ID > 0 {
		return Subscribed{SeriesID: ref.ID, Name: ref.Name}, nil
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return Subscribed{}, ErrSeriesNotFound
	}
	hit, err := m.lib.FindSeries(ctx, name)
	if errors.Is(err, kavita.ErrNotFound) {
		return Subscribed{}, ErrSeriesNotFound
	}
	if err != nil {
		return Subscribed{}, err
	}
	return Subscribed{SeriesID: hit.SeriesID, Name: hit.Name}, nil
}

// Subscribe adds a series for user. A repeat subscription returns
// AlreadyExists and writes nothing.
func (m *Manager) Subscribe(ctx context.Context, user string, ref Ref) (Subscribed, AddResult, error) {
	s, err := m.resolve(ctx, ref)
	if err != nil {
		return Subscribed{}, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[user]
	if ok && slices.Contains(rec.Series, s.SeriesID) {
		return s, AlreadyExists, nil
	}
	if !ok {
		rec = &Record{Enabled: true}
		m.records[user] = rec
	}
	rec.Series = append(rec.Series, s.SeriesID)
	if err := m.saveLocked(ctx); err != nil {
		rec.Series = rec.Series[:len(rec.Series)-1]
		if !ok {
			delete(m.records, user)
		}
		return s, 0, fmt.Errorf("save subscriptions: %w", err)
	}
	m.log.Info("subscribed", logx.String("user_id", user), logx.Int("series_id", s.SeriesID))
	return s, Added, nil
}

// Unsubscribe removes one series, or every series when ref.All(). A user
// left with no series loses their record.
func (m *Manager) Unsubscribe(ctx context.Context, user string, ref Ref) (Subscribed, RemoveResult, error) {
	var s Subscribed
	if !ref.All() {
		var err error
		if s, err = m.resolve(ctx, ref); err != nil {
			return Subscribed{}, 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[user]
	if !ok {
		return s, NoSubscriptions, nil
	}
	prev := *rec
	prev.Series = slices.Clone(rec.Series)

	if ref.All() {
		delete(m.records, user)
	} else {
		i := slices.Index(rec.Series, s.SeriesID)
		if i < 0 {
			return s, NotSubscribed, nil
		}
		rec.Series = slices.Delete(rec.Series, i, i+1)
		if len(rec.Series) == 0 {
			delete(m.records, user)
		}
	}
	if err := m.saveLocked(ctx); err != nil {
		m.records[user] = &prev
		return s, 0, fmt.Errorf("save subscriptions: %w", err)
	}
	m.log.Info("unsubscribed", logx.String("user_id", user), logx.String("ref", ref.String()))
	return s, Removed, nil
}

// SetEnabled pauses or resumes a user's notifications without touching
// their series.
func (m *Manager) SetEnabled(ctx context.Context, user string, enabled bool) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[user]
	if !ok {
		return false, ErrNoSubscriptions
	}
	if rec.Enabled == enabled {
		return false, nil
	}
	rec.Enabled = enabled
	if err := m.saveLocked(ctx); err != nil {
		rec.Enabled = !enabled
		return false, fmt.Errorf("save subscriptions: %w", err)
	}
	return true, nil
}

// List returns the user's series with resolved names. Lookups that fail
// leave Name empty so the renderer shows a placeholder.
func (m *Manager) List(ctx context.Context, user string) (enabled bool, items []render.ListItem, err error) {
	m.mu.Lock()
	rec, ok := m.records[user]
	var ids []int
	if ok {
		enabled = rec.Enabled
		ids = slices.Clone(rec.Series)
	}
	m.mu.Unlock()
	if !ok {
		return false, nil, ErrNoSubscriptions
	}

	items = make([]render.ListItem, 0, len(ids))
	for _, id := range ids {
		it := render.ListItem{SeriesID: id}
		if s, err := m.lib.Series(ctx, id); err == nil {
			it.Name = s.Name
		} else {
			m.log.Warn("series lookup failed", logx.Int("series_id", id), logx.Err(err))
		}
		items = append(items, it)
	}
	return enabled, items, nil
}

// Get returns a copy of user's record.
func (m *Manager) Get(user string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[user]
	if !ok {
		return Record{}, false
	}
	return Record{Enabled: rec.Enabled, Series: slices.Clone(rec.Series)}, true
}

// Users is the number of users with a record.
func (m *Manager) Users() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// UserSeries is one enabled user's subscription list.
type UserSeries struct {
	UserID string
	Series []int
}

// Enabled lists enabled users ordered by id.
func (m *Manager) Enabled() []UserSeries {
	m.mu.Lock()
	out := make([]UserSeries, 0, len(m.records))
	for user, rec := range m.records {
		if rec.Enabled && len(rec.Series) > 0 {
			out = append(out, UserSeries{UserID: user, Series: slices.Clone(rec.Series)})
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
