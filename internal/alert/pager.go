// Package alert pages the bot administrator: failed health checks,
// add-manga requests and high-severity log records.
package alert

import (
	"context"
	"errors"
	"strings"

	kit "kavitabot/internal/transport"
)

var ErrNoPager = errors.New("alert: no pager configured")

// Pager delivers one text to the administrator.
type Pager interface {
	Page(ctx context.Context, text string) error
}

// Multi pages through every member and joins their errors. It succeeds
// when at least one member does.
type Multi []Pager

func (m Multi) Page(ctx context.Context, text string) error {
	if len(m) == 0 {
		return ErrNoPager
	}
	var errs []error
	ok := false
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Page(ctx, text); err != nil {
			errs = append(errs, err)
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoPager
	}
	return errors.Join(errs...)
}

// DiscordDM pages by direct message.
type DiscordDM struct {
	Sender kit.Sender
	UserID string
}

func (d DiscordDM) Page(ctx context.Context, text string) error {
	if d.Sender == nil || strings.TrimSpace(d.UserID) == "" {
		return ErrNoPager
	}
	_, err := d.Sender.SendDM(ctx, d.UserID, kit.Text(text))
	return err
}
