package subscription

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kavitabot/internal/emoji"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

// Fan-out outcomes per user.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeForbidden = "forbidden"
)

// Tracker posts the per-user reactable index.
type Tracker interface {
	PostAndTrack(ctx context.Context, s kit.Sender, to reactable.Target, msg kit.Message, m emoji.Mapping, c reactable.Context) (kit.MessageRef, error)
}

// OutcomeObserver counts fan-out results.
type OutcomeObserver interface {
	FanOut(outcome string)
}

const (
	indexTitle       = "Your subscribed series"
	indexDescription = "React to see the latest chapters:"
	fetchParallelism = 4
)

// Notifier runs the subscription fan-out in two phases: Prepare fetches
// everything from Kavita, Deliver sends it. Deliver must run where chat
// I/O is allowed.
type Notifier struct {
	mgr     *Manager
	lib     Library
	tracker Tracker
	obs     OutcomeObserver
	log     logx.Logger
}

func NewNotifier(mgr *Manager, lib Library, tracker Tracker, obs OutcomeObserver, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{mgr: mgr, lib: lib, tracker: tracker, obs: obs, log: log}
}

// Batch is one user's prepared notification set. Err is set when any
// fetch for the user failed; the whole batch is then skipped.
type Batch struct {
	UserID string
	Cards  []kit.Message
	Titles []string
	Err    error
}

type seriesResult struct {
	card  render.Series
	title string
	err   error
}

// Prepare fetches each subscribed series once and builds per-user batches.
func (n *Notifier) Prepare(ctx context.Context) []Batch {
	users := n.mgr.Enabled()
	if len(users) == 0 {
		return nil
	}

	results := map[int]*seriesResult{}
	var g errgroup.Group
	g.SetLimit(fetchParallelism)
	for _, u := range users {
		for _, id := range u.Series {
			if _, ok := results[id]; ok {
				continue
			}
			r := &seriesResult{}
			results[id] = r
			g.Go(func() error {
				*r = n.fetch(ctx, id)
				return nil
			})
		}
	}
	_ = g.Wait()

	out := make([]Batch, 0, len(users))
	for _, u := range users {
		b := Batch{UserID: u.UserID}
		for _, id := range u.Series {
			r := results[id]
			if r.err != nil {
				b.Err = fmt.Errorf("series %d: %w", id, r.err)
				break
			}
			b.Cards = append(b.Cards, render.SeriesCard(r.card))
			b.Titles = append(b.Titles, r.title)
		}
		out = append(out, b)
	}
	return out
}

func (n *Notifier) fetch(ctx context.Context, id int) seriesResult {
	s, err := n.lib.Series(ctx, id)
	if err != nil {
		return seriesResult{err: err}
	}
	meta, err := n.lib.SeriesMetadata(ctx, id)
	if err != nil {
		return seriesResult{err: err}
	}
	cover, err := n.lib.SeriesCover(ctx, id)
	if err != nil {
		n.log.Debug("series cover unavailable", logx.Int("series_id", id), logx.Err(err))
		cover = nil
	}
	return seriesResult{
		title: s.Name,
		card: render.Series{
			ID:        s.ID,
			Name:      s.Name,
			LibraryID: s.LibraryID,
			URL:       n.lib.SeriesURL(s.LibraryID, s.ID),
			Meta:      meta,
			Cover:     cover,
		},
	}
}

// Report summarizes one fan-out run.
type Report struct {
	Delivered int
	Failed    int
}

// Deliver sends every batch by DM. A failure abandons that user's batch
// and moves on to the next user.
func (n *Notifier) Deliver(ctx context.Context, s kit.Sender, batches []Batch) Report {
	var rep Report
	for _, b := range batches {
		log := n.log.With(logx.String("user_id", b.UserID))
		if err := n.deliverOne(ctx, s, b); err != nil {
			rep.Failed++
			outcome := OutcomeFailed
			if errors.Is(err, kit.ErrForbidden) {
				outcome = OutcomeForbidden
				log.Warn("user does not accept direct messages", logx.Err(err))
			} else {
				log.Error("notification delivery failed", logx.Err(err))
			}
			n.count(outcome)
			continue
		}
		rep.Delivered++
		n.count(OutcomeDelivered)
		log.Info("notifications delivered", logx.Int("series", len(b.Cards)))
	}
	return rep
}

func (n *Notifier) deliverOne(ctx context.Context, s kit.Sender, b Batch) error {
	if b.Err != nil {
		return b.Err
	}
	for _, card := range b.Cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.SendDM(ctx, b.UserID, card); err != nil {
			return err
		}
	}
	if n.tracker == nil || len(b.Titles) == 0 {
		return nil
	}
	msg, m := reactable.Compose(b.Titles, indexTitle, indexDescription)
	_, err := n.tracker.PostAndTrack(ctx, s, reactable.Target{UserID: b.UserID}, msg, m, reactable.Direct)
	return err
}

func (n *Notifier) count(outcome string) {
	if n.obs != nil {
		n.obs.FanOut(outcome)
	}
}
