package commands

import (
	"context"
	"errors"
	"fmt"

	"kavitabot/internal/jobs"
	"kavitabot/internal/render"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

const healthNotice = "⚠️ The manga server is not responding. The admin has been notified."

// Actions adapts the Service to the scheduler. Jobs are validated at load,
// so an unknown command here only fails its own run.
type Actions struct{ s *Service }

func (s *Service) Actions() Actions { return Actions{s: s} }

func (a Actions) Prepare(job jobs.Job, runID string) func(ctx context.Context) (loop.Deliver, error) {
	s := a.s
	log := s.log.With(logx.String("job", job.ID), logx.String("run_id", runID))
	act := job.Action
	switch act.Kind {
	case jobs.ActionSendMessage:
		return func(ctx context.Context) (loop.Deliver, error) {
			return s.send(act.ChannelID, kit.Text(act.Text)), nil
		}
	case jobs.ActionRunCommand:
		switch act.Command {
		case jobs.CmdServerStats:
			return func(ctx context.Context) (loop.Deliver, error) { return s.nightlyStats(ctx, act.ChannelID) }
		case jobs.CmdUserNotifications:
			return func(ctx context.Context) (loop.Deliver, error) { return s.fanOut(ctx, log) }
		case jobs.CmdHealthCheck:
			return func(ctx context.Context) (loop.Deliver, error) { return s.healthCheck(ctx, act.ChannelID, log) }
		case jobs.CmdRecentlyUpdated:
			return func(ctx context.Context) (loop.Deliver, error) { return s.recentDigest(ctx, act.ChannelID) }
		}
	}
	return func(ctx context.Context) (loop.Deliver, error) {
		return nil, fmt.Errorf("%w: %s %s", jobs.ErrUnknownCommand, act.Kind, act.Command)
	}
}

func (s *Service) send(channelID string, msgs ...kit.Message) loop.Deliver {
	return func(ctx context.Context) error {
		for _, m := range msgs {
			if _, err := s.chat.Send(ctx, channelID, m); err != nil {
				return fmt.Errorf("send to %s: %w", channelID, err)
			}
		}
		return nil
	}
}

// nightlyStats posts the stats report followed by a card for each top
// series.
func (s *Service) nightlyStats(ctx context.Context, channelID string) (loop.Deliver, error) {
	st, err := s.lib.ServerStats(ctx)
	if err != nil {
		return nil, err
	}
	top := st.TopSeries(s.cfg().StatsExclude, statsTop)
	msgs := []kit.Message{render.StatsReport(st, top)}
	for _, ser := range top {
		c, err := s.card(ctx, ser.ID, ser.LibraryID, ser.Name)
		if err != nil {
			s.log.Warn("top series card skipped", logx.Int("series_id", ser.ID), logx.Err(err))
			continue
		}
		msgs = append(msgs, render.SeriesCard(c))
	}
	return s.send(channelID, msgs...), nil
}

func (s *Service) fanOut(ctx context.Context, log logx.Logger) (loop.Deliver, error) {
	if s.notif == nil {
		return nil, errors.New("notifier not configured")
	}
	batches := s.notif.Prepare(ctx)
	if len(batches) == 0 {
		log.Info("no enabled subscribers")
		return nil, nil
	}
	return func(ctx context.Context) error {
		rep := s.notif.Deliver(ctx, s.chat, batches)
		log.Info("notification fan-out finished", logx.Int("delivered", rep.Delivered), logx.Int("failed", rep.Failed))
		return nil
	}, nil
}

// healthCheck re-authenticates when needed and pings the server. On
// failure the admin is paged from the fetch stage and the channel gets a
// notice; the run then reports the failure.
func (s *Service) healthCheck(ctx context.Context, channelID string, log logx.Logger) (loop.Deliver, error) {
	err := s.ping(ctx)
	if err == nil {
		log.Debug("manga server healthy")
		return nil, nil
	}
	log.Error("manga server health check failed", logx.Err(err))
	if s.pager != nil {
		if perr := s.pager.Page(ctx, fmt.Sprintf("Kavita health check failed: %v", err)); perr != nil {
			log.Error("page admin failed", logx.Err(perr))
		}
	}
	notice := s.send(channelID, kit.Text(healthNotice))
	return func(ctx context.Context) error {
		return errors.Join(notice(ctx), fmt.Errorf("health check: %w", err))
	}, nil
}

func (s *Service) ping(ctx context.Context) error {
	if !s.lib.Authenticated() {
		if err := s.lib.Authenticate(ctx); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	return s.lib.Health(ctx)
}

func (s *Service) recentDigest(ctx context.Context, channelID string) (loop.Deliver, error) {
	list, err := s.lib.RecentlyUpdated(ctx)
	if err != nil {
		return nil, err
	}
	names := recentNames(list)
	if len(names) == 0 {
		return nil, nil
	}
	return func(ctx context.Context) error {
		return s.postDigest(ctx, channelID, names)
	}, nil
}
