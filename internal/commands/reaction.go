package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kavitabot/internal/kavita"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

const (
	broadcastChapters = 3
	directWindow      = 7 * 24 * time.Hour
	directMax         = 5
	directFallback    = 2
)

// HandleReaction answers a reaction on a tracked digest. Reactions that do
// not resolve are ignored.
func (s *Service) HandleReaction(ctx context.Context, r *kit.Reaction) error {
	if r == nil || r.UserID == "" || r.UserID == s.self() {
		return nil
	}
	res, ok := s.reg.Resolve(r.MessageID, r.Emoji)
	if !ok {
		return nil
	}
	log := s.log.With(
		logx.String("message_id", r.MessageID),
		logx.String("user_id", r.UserID),
		logx.String("title", res.Title),
		logx.String("context", string(res.Context)),
	)
	w := &loop.Work{
		ID:   uuid.NewString(),
		Name: "reaction",
		Fetch: func(ctx context.Context) (loop.Deliver, error) {
			msgs, err := s.followUp(ctx, res)
			if err != nil {
				return nil, err
			}
			if res.Context == reactable.Direct {
				return func(ctx context.Context) error {
					for _, m := range msgs {
						if _, err := s.chat.SendDM(ctx, r.UserID, m); err != nil {
							return err
						}
					}
					return nil
				}, nil
			}
			ch := r.ChannelID
			if ch == "" {
				ch = res.ChannelID
			}
			return s.send(ch, msgs...), nil
		},
		Done: func(err error) {
			if err != nil {
				log.Warn("reaction follow-up failed", logx.Err(err))
				return
			}
			s.observeReaction(res.Context)
			log.Debug("reaction answered")
		},
	}
	return s.loop.Submit(ctx, w)
}

// followUp builds the messages for a resolved reaction. Broadcast digests
// get the series card and the latest chapters; direct ones get only the
// chapters from the last week.
func (s *Service) followUp(ctx context.Context, res reactable.Resolution) ([]kit.Message, error) {
	hit, err := s.lib.FindSeries(ctx, res.Title)
	if errors.Is(err, kavita.ErrNotFound) {
		return []kit.Message{kit.Text(fmt.Sprintf("**%s** could not be found on the server anymore.", res.Title))}, nil
	}
	if err != nil {
		return nil, err
	}
	detail, err := s.lib.SeriesDetail(ctx, hit.SeriesID)
	if err != nil {
		return nil, err
	}
	url := s.lib.SeriesURL(hit.LibraryID, hit.SeriesID)

	var (
		msgs     []kit.Message
		chapters []kavita.Chapter
	)
	if res.Context == reactable.Direct {
		chapters = detail.Since(s.now().Add(-directWindow), directMax, directFallback)
	} else {
		c, err := s.card(ctx, hit.SeriesID, hit.LibraryID, hit.Name)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, render.SeriesCard(c))
		chapters = detail.Recent(broadcastChapters)
	}
	for _, ch := range chapters {
		msgs = append(msgs, render.ChapterCard(s.chapter(ctx, hit.Name, url, ch)))
	}
	if len(msgs) == 0 {
		msgs = append(msgs, kit.Text(fmt.Sprintf("No chapters found for **%s**.", hit.Name)))
	}
	return msgs, nil
}

// chapter gathers a chapter card. Summary and cover are optional.
func (s *Service) chapter(ctx context.Context, series, url string, ch kavita.Chapter) render.Chapter {
	out := render.Chapter{SeriesName: series, SeriesURL: url, Chapter: ch}
	if sum, err := s.lib.ChapterSummary(ctx, ch.ID); err == nil {
		out.Summary = sum
	} else {
		s.log.Debug("chapter summary unavailable", logx.Int("chapter_id", ch.ID), logx.Err(err))
	}
	if cover, err := s.lib.ChapterCover(ctx, ch.ID); err == nil {
		out.Cover = cover
	} else {
		s.log.Debug("chapter cover unavailable", logx.Int("chapter_id", ch.ID), logx.Err(err))
	}
	return out
}
