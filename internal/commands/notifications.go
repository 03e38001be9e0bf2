package commands

import (
	"context"
	"errors"
	"fmt"

	"kavitabot/internal/render"
	"kavitabot/internal/subscription"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
)

func (s *Service) seriesRef(cmd *kit.Command) (subscription.Ref, error) {
	raw, _ := cmd.Str("series")
	id, name := parseRef(raw)
	if id == 0 && name == "" {
		return subscription.Ref{}, userErr("Give a series name or id.")
	}
	return subscription.Ref{ID: id, Name: name}, nil
}

func seriesLabel(sub subscription.Subscribed) string {
	if sub.Name != "" {
		return sub.Name
	}
	return fmt.Sprintf("series %d", sub.SeriesID)
}

func (s *Service) private(cmd *kit.Command, format string, args ...any) loop.Deliver {
	return s.reply(cmd, ephemeral(kit.Text(fmt.Sprintf(format, args...)), true))
}

func (s *Service) notifyMe(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	ref, err := s.seriesRef(cmd)
	if err != nil {
		return nil, err
	}
	if ref.All() {
		return nil, userErr("Pick one series to be notified about.")
	}
	if ref.ID > 0 {
		ser, err := s.lib.Series(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		ref.Name = ser.Name
	}
	sub, res, err := s.subs.Subscribe(ctx, cmd.UserID, ref)
	if err != nil {
		return nil, err
	}
	if res == subscription.AlreadyExists {
		return s.private(cmd, "You are already subscribed to **%s**.", seriesLabel(sub)), nil
	}
	return s.private(cmd, "You will get a direct message with updates for **%s**.", seriesLabel(sub)), nil
}

func (s *Service) removeNotification(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	ref, err := s.seriesRef(cmd)
	if err != nil {
		return nil, err
	}
	sub, res, err := s.subs.Unsubscribe(ctx, cmd.UserID, ref)
	if err != nil {
		return nil, err
	}
	switch {
	case res == subscription.NoSubscriptions:
		return s.private(cmd, msgNoSubs), nil
	case res == subscription.NotSubscribed:
		return s.private(cmd, "You are not subscribed to **%s**.", seriesLabel(sub)), nil
	case ref.All():
		return s.private(cmd, "All your notifications have been removed."), nil
	default:
		return s.private(cmd, "You will no longer get updates for **%s**.", seriesLabel(sub)), nil
	}
}

func (s *Service) listNotifications(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	enabled, items, err := s.subs.List(ctx, cmd.UserID)
	if errors.Is(err, subscription.ErrNoSubscriptions) {
		return s.private(cmd, msgNoSubs), nil
	}
	if err != nil {
		return nil, err
	}
	return s.reply(cmd, render.SubscriptionList(enabled, items)), nil
}

func (s *Service) notificationToggle(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	enabled, ok := cmd.Bool("enabled")
	if !ok {
		return nil, userErr("Say whether notifications should be enabled.")
	}
	state := "paused"
	if enabled {
		state = "enabled"
	}
	changed, err := s.subs.SetEnabled(ctx, cmd.UserID, enabled)
	if errors.Is(err, subscription.ErrNoSubscriptions) {
		return s.private(cmd, msgNoSubs), nil
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.private(cmd, "Your notifications are already %s.", state), nil
	}
	return s.private(cmd, "Your notifications are now %s.", state), nil
}
