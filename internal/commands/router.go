package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kavitabot/internal/kavita"
	"kavitabot/internal/subscription"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

var ErrUnknownCommand = errors.New("unknown command")

// HandlerFunc is the fetch stage of a command. The returned Deliver sends
// the reply on the loop.
type HandlerFunc func(ctx context.Context, cmd *kit.Command) (loop.Deliver, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
			if d <= 0 {
				return next(ctx, cmd)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, cmd)
		}
	}
}

func withRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
			start := time.Now()
			l := log.With(logx.String("command", cmd.Name), logx.String("user_id", cmd.UserID))
			d, err := next(ctx, cmd)
			if err != nil {
				l.Warn("command failed", logx.Duration("took", time.Since(start)), logx.Err(err))
				return d, err
			}
			l.Debug("command fetched", logx.Duration("took", time.Since(start)))
			return d, nil
		}
	}
}

// route is one slash command. Ephemeral replies are visible only to the
// caller.
type route struct {
	spec    kit.CommandSpec
	timeout time.Duration
	handle  HandlerFunc
}

// userError carries the text shown to the caller; cause, when set, is what
// gets logged and counted.
type userError struct {
	msg   string
	cause error
}

func (e *userError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *userError) Unwrap() error { return e.cause }

func userErr(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

const (
	msgNotFound    = "No series found matching that name or id."
	msgTimeout     = "The manga server took too long to respond. Please try again later."
	msgUnavailable = "The manga server could not be reached. Please try again later."
	msgNoSubs      = "You have no notifications set up. Use `/notify-me` to add one."
)

// userMessage maps an error to plain text. Raw errors never reach users.
func userMessage(err error) string {
	var ue *userError
	switch {
	case errors.As(err, &ue):
		return ue.msg
	case errors.Is(err, kavita.ErrNotFound), errors.Is(err, subscription.ErrSeriesNotFound):
		return msgNotFound
	case errors.Is(err, subscription.ErrNoSubscriptions):
		return msgNoSubs
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	default:
		return msgUnavailable
	}
}

// Dispatch queues cmd on the loop. A handler error becomes a plain-language
// reply; the original error is logged and counted.
func (s *Service) Dispatch(ctx context.Context, cmd *kit.Command) error {
	r, ok := s.routes[cmd.Name]
	if !ok {
		s.log.Warn("unknown command", logx.String("command", cmd.Name))
		s.observeCommand(cmd.Name, ErrUnknownCommand)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	timeout := r.timeout
	if timeout <= 0 {
		timeout = s.cfg().CommandTimeout
	}
	h := Chain(r.handle, withRequestLog(s.log), withTimeout(timeout))

	var failure error
	w := &loop.Work{
		ID:   uuid.NewString(),
		Name: "command:" + cmd.Name,
		Fetch: func(ctx context.Context) (loop.Deliver, error) {
			d, err := h(ctx, cmd)
			if err != nil {
				failure = err
				return s.reply(cmd, ephemeral(kit.Text(userMessage(err)), r.spec.Ephemeral)), nil
			}
			return d, nil
		},
		Done: func(err error) {
			if failure != nil {
				err = failure
			} else if err != nil {
				s.log.Error("command reply failed", logx.String("command", cmd.Name), logx.Err(err))
			}
			s.observeCommand(cmd.Name, err)
		},
	}
	if err := s.loop.Submit(ctx, w); err != nil {
		s.log.Warn("command dropped", logx.String("command", cmd.Name), logx.Err(err))
		s.observeCommand(cmd.Name, err)
		return err
	}
	return nil
}

// reply answers cmd with msgs in order.
func (s *Service) reply(cmd *kit.Command, msgs ...kit.Message) loop.Deliver {
	return func(ctx context.Context) error {
		for _, m := range msgs {
			if err := s.chat.Reply(ctx, cmd, m); err != nil {
				return err
			}
		}
		return nil
	}
}

func ephemeral(m kit.Message, on bool) kit.Message {
	m.Ephemeral = on
	return m
}

// Specs lists the slash commands for registration.
func (s *Service) Specs() []kit.CommandSpec {
	out := make([]kit.CommandSpec, 0, len(s.routes))
	for _, name := range commandOrder {
		if r, ok := s.routes[name]; ok {
			out = append(out, r.spec)
		}
	}
	return out
}
