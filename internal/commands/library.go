package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kavitabot/internal/emoji"
	"kavitabot/internal/kavita"
	"kavitabot/internal/reactable"
	"kavitabot/internal/render"
	"kavitabot/internal/task/loop"
	kit "kavitabot/internal/transport"
	logx "kavitabot/pkg/logx"
)

const (
	searchCards   = 3
	statsTop      = 3
	recentTitle   = "Recently Updated Series"
	recentPrompt  = "React to see series update info:"
	recentNone    = "No series have been updated recently."
	recentPosting = "Here are the recently updated series:"
)

// lookup resolves the series_name / series_id options.
func (s *Service) lookup(ctx context.Context, cmd *kit.Command) (kavita.SearchHit, error) {
	if id, ok := cmd.Int("series_id"); ok && id > 0 {
		ser, err := s.lib.Series(ctx, int(id))
		if err != nil {
			return kavita.SearchHit{}, err
		}
		return kavita.SearchHit{SeriesID: ser.ID, Name: ser.Name, LibraryID: ser.LibraryID}, nil
	}
	if name, ok := cmd.Str("series_name"); ok && strings.TrimSpace(name) != "" {
		return s.lib.FindSeries(ctx, strings.TrimSpace(name))
	}
	return kavita.SearchHit{}, userErr("Give a series name or a series id.")
}

// card gathers what a series card shows. A missing cover is not an error.
func (s *Service) card(ctx context.Context, id, libraryID int, name string) (render.Series, error) {
	meta, err := s.lib.SeriesMetadata(ctx, id)
	if err != nil {
		return render.Series{}, fmt.Errorf("series %d metadata: %w", id, err)
	}
	out := render.Series{
		ID:        id,
		Name:      name,
		LibraryID: libraryID,
		URL:       s.lib.SeriesURL(libraryID, id),
		Meta:      meta,
	}
	if cover, err := s.lib.SeriesCover(ctx, id); err == nil {
		out.Cover = cover
	} else {
		s.log.Warn("series cover unavailable", logx.Int("series_id", id), logx.Err(err))
	}
	return out, nil
}

func (s *Service) serverStats(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	st, err := s.lib.ServerStats(ctx)
	if err != nil {
		return nil, err
	}
	return s.reply(cmd, render.StatsReport(st, st.TopSeries(s.cfg().StatsExclude, statsTop))), nil
}

func (s *Service) seriesInfo(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	hit, err := s.lookup(ctx, cmd)
	if err != nil {
		return nil, err
	}
	c, err := s.card(ctx, hit.SeriesID, hit.LibraryID, hit.Name)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Bool("verbose"); verbose {
		detail, err := s.lib.SeriesDetail(ctx, hit.SeriesID)
		if err != nil {
			return nil, err
		}
		return s.reply(cmd, render.Verbose(c, len(detail.AllChapters()))), nil
	}
	return s.reply(cmd, render.SeriesCard(c)), nil
}

func (s *Service) seriesCover(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	hit, err := s.lookup(ctx, cmd)
	if err != nil {
		return nil, err
	}
	c := render.Series{ID: hit.SeriesID, Name: hit.Name, LibraryID: hit.LibraryID, URL: s.lib.SeriesURL(hit.LibraryID, hit.SeriesID)}
	cover, err := s.lib.SeriesCover(ctx, hit.SeriesID)
	if err != nil && !errors.Is(err, kavita.ErrNotFound) {
		return nil, err
	}
	c.Cover = cover
	return s.reply(cmd, render.SeriesCover(c)), nil
}

func (s *Service) nextUpdate(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	hit, err := s.lookup(ctx, cmd)
	if err != nil {
		return nil, err
	}
	next, err := s.lib.NextExpected(ctx, hit.SeriesID)
	if err != nil && !errors.Is(err, kavita.ErrNotFound) {
		return nil, err
	}
	return s.reply(cmd, kit.Text(render.NextUpdate(hit.Name, hit.SeriesID, next, s.now()))), nil
}

// mangaSearch lists every hit and sends full cards for the first few. With
// no hits it fetches nothing else.
func (s *Service) mangaSearch(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	query, _ := cmd.Str("query")
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, userErr("Give something to search for.")
	}
	res, err := s.lib.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(res.Series) == 0 {
		return s.reply(cmd, kit.Text(render.NoResults(query))), nil
	}

	hits := make([]render.SearchHit, 0, len(res.Series))
	for _, h := range res.Series {
		hits = append(hits, render.SearchHit{Name: h.Name, Library: h.LibraryName, URL: s.lib.SeriesURL(h.LibraryID, h.SeriesID)})
	}
	msgs := []kit.Message{render.SearchResults(query, hits)}
	for _, h := range res.Series[:min(len(res.Series), searchCards)] {
		c, err := s.card(ctx, h.SeriesID, h.LibraryID, h.Name)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, render.SeriesCard(c))
	}
	return s.reply(cmd, msgs...), nil
}

// recentNames returns the distinct series names in server order.
func recentNames(list []kavita.RecentSeries) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range list {
		name := strings.TrimSpace(r.SeriesName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// postDigest sends the reactable recently-updated digest to a channel.
func (s *Service) postDigest(ctx context.Context, channelID string, names []string) error {
	msg, m := reactable.Compose(names, recentTitle, recentPrompt)
	if len(m) < len(names) {
		s.log.Info("digest truncated to emoji alphabet", logx.Int("titles", len(names)), logx.Int("kept", emoji.Capacity()))
	}
	_, err := s.reg.PostAndTrack(ctx, s.chat, reactable.Target{ChannelID: channelID}, msg, m, reactable.Broadcast)
	return err
}

func (s *Service) recentlyUpdated(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	list, err := s.lib.RecentlyUpdated(ctx)
	if err != nil {
		return nil, err
	}
	names := recentNames(list)
	if len(names) == 0 {
		return s.reply(cmd, kit.Text(recentNone)), nil
	}
	return func(ctx context.Context) error {
		if err := s.chat.Reply(ctx, cmd, kit.Text(recentPosting)); err != nil {
			return err
		}
		return s.postDigest(ctx, cmd.ChannelID, names)
	}, nil
}

func (s *Service) inviteMe(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	raw, _ := cmd.Str("email")
	raw = strings.TrimSpace(raw)
	if !deliverableEmail(raw) {
		return nil, userErr("`%s` is not a valid email address.", raw)
	}
	outcome, err := s.lib.Invite(ctx, raw, s.cfg().InviteLibraries)
	switch outcome {
	case kavita.InviteSent:
		s.log.Info("invite sent", logx.String("user_id", cmd.UserID))
		return s.reply(cmd, ephemeral(kit.Text(fmt.Sprintf("An invite has been sent to `%s`. Check your inbox and spam folder.", raw)), true)), nil
	case kavita.InviteExists:
		return s.reply(cmd, ephemeral(kit.Text(fmt.Sprintf("An account for `%s` already exists on the server.", raw)), true)), nil
	default:
		return nil, &userError{msg: "The invite could not be sent. Please try again later or ask an admin.", cause: err}
	}
}

func (s *Service) serverAddress(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	return s.reply(cmd, render.ServerAddress(s.lib.PublicURL())), nil
}

func (s *Service) randomManga(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	name, _ := cmd.Str("library")
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.cfg().RandomLibrary
	}
	libs, err := s.lib.Libraries(ctx)
	if err != nil {
		return nil, err
	}
	libID := 0
	for _, l := range libs {
		if strings.EqualFold(l.Name, name) {
			libID = l.ID
			break
		}
	}
	if libID == 0 {
		return nil, userErr("No library named `%s`.", name)
	}
	list, err := s.lib.SeriesInLibrary(ctx, libID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, userErr("Library `%s` has no series.", name)
	}
	pick := list[s.pick(len(list))]
	c, err := s.card(ctx, pick.ID, libID, pick.Name)
	if err != nil {
		return nil, err
	}
	return s.reply(cmd, render.SeriesCard(c)), nil
}

func (s *Service) addManga(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	title, _ := cmd.Str("title")
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, userErr("Give the title of the series you want added.")
	}
	link, _ := cmd.Str("link")
	if s.pager == nil {
		return nil, userErr("Requests are not being accepted right now.")
	}
	who := cmd.Username
	if who == "" {
		who = cmd.UserID
	}
	text := fmt.Sprintf("Manga request from %s (%s): %s", who, cmd.UserID, title)
	if link = strings.TrimSpace(link); link != "" {
		text += "\n" + link
	}
	if err := s.pager.Page(ctx, text); err != nil {
		return nil, &userError{msg: "Your request could not be forwarded. Please try again later.", cause: err}
	}
	return s.reply(cmd, ephemeral(kit.Text(fmt.Sprintf("Your request for **%s** was sent to the admin.", title)), true)), nil
}

func (s *Service) botInfo(ctx context.Context, cmd *kit.Command) (loop.Deliver, error) {
	return s.reply(cmd, render.BotInfo(s.stat(), s.now())), nil
}

// parseRef reads a series option that may be an id or a name.
func parseRef(raw string) (id int, name string) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n, ""
	}
	return 0, raw
}
