// Package render turns Kavita entities into chat messages.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"kavitabot/internal/emoji"
	"kavitabot/internal/kavita"
	kit "kavitabot/internal/transport"
)

const (
	Color       = 0x4ac694
	ServerName  = "Kavita Manga Server"
	summaryMax  = 900
	descMax     = 4000
	footerBrand = "Kavita"
)

// Series is what a series card needs. Cover may be nil.
type Series struct {
	ID        int
	Name      string
	LibraryID int
	URL       string
	Meta      kavita.SeriesMetadata
	Cover     []byte
}

func SeriesCoverName(id int) string  { return fmt.Sprintf("series_cover_%d.jpg", id) }
func ChapterCoverName(id int) string { return fmt.Sprintf("chapter_cover_%d.jpg", id) }

// SeriesEmbed renders the card body. The cover, if any, is referenced as an
// attachment; callers add the file with SeriesFile.
func SeriesEmbed(s Series) kit.Embed {
	e := kit.Embed{
		Title: s.Name,
		URL:   s.URL,
		Color: Color,
		Description: fmt.Sprintf("**Author**:\n- %s\n**Summary**:\n%s\n[**Read here**](%s)",
			s.Meta.Author(), clip(orNone(s.Meta.Summary), summaryMax), s.URL),
	}
	if len(s.Cover) > 0 {
		e.ImageURL = kit.AttachmentURL(SeriesCoverName(s.ID))
	}
	return e
}

func SeriesFile(s Series) []kit.File {
	if len(s.Cover) == 0 {
		return nil
	}
	return []kit.File{{Name: SeriesCoverName(s.ID), ContentType: "image/jpeg", Data: s.Cover}}
}

func SeriesCard(s Series) kit.Message {
	return kit.Message{Embeds: []kit.Embed{SeriesEmbed(s)}, Files: SeriesFile(s)}
}

// SeriesCover is the cover image alone with a link.
func SeriesCover(s Series) kit.Message {
	if len(s.Cover) == 0 {
		return kit.Text(fmt.Sprintf("No cover available for **%s**.", s.Name))
	}
	return kit.Message{
		Embeds: []kit.Embed{{
			Title:    s.Name,
			URL:      s.URL,
			Color:    Color,
			ImageURL: kit.AttachmentURL(SeriesCoverName(s.ID)),
		}},
		Files: SeriesFile(s),
	}
}

type Chapter struct {
	SeriesName string
	SeriesURL  string
	Chapter    kavita.Chapter
	Summary    string
	Cover      []byte
}

func ChapterCard(c Chapter) kit.Message {
	e := kit.Embed{
		Title: fmt.Sprintf("%s: %s", c.SeriesName, c.Chapter.Label()),
		URL:   c.SeriesURL,
		Color: Color,
	}
	if s := strings.TrimSpace(c.Summary); s != "" {
		e.Description = clip(s, summaryMax)
	}
	if !c.Chapter.Created.IsZero() {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "Added", Value: humanize.Time(c.Chapter.Created.Time), Inline: true})
	}
	if c.Chapter.Pages > 0 {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "Pages", Value: humanize.Comma(int64(c.Chapter.Pages)), Inline: true})
	}
	msg := kit.Message{}
	if len(c.Cover) > 0 {
		name := ChapterCoverName(c.Chapter.ID)
		e.ImageURL = kit.AttachmentURL(name)
		msg.Files = []kit.File{{Name: name, ContentType: "image/jpeg", Data: c.Cover}}
	}
	msg.Embeds = []kit.Embed{e}
	return msg
}

// StatsReport summarizes server totals and the most-read series.
func StatsReport(st kavita.ServerStats, top []kavita.Series) kit.Message {
	e := kit.Embed{
		Title: "Server Stats",
		Color: Color,
		Fields: []kit.EmbedField{
			{Name: "Series", Value: humanize.Comma(int64(st.SeriesCount)), Inline: true},
			{Name: "Volumes", Value: humanize.Comma(int64(st.VolumeCount)), Inline: true},
			{Name: "Chapters", Value: humanize.Comma(int64(st.ChapterCount)), Inline: true},
			{Name: "Files", Value: humanize.Comma(int64(st.TotalFiles)), Inline: true},
			{Name: "Size", Value: humanize.Bytes(uint64(max(st.TotalSize, 0))), Inline: true},
			{Name: "Genres", Value: humanize.Comma(int64(st.TotalGenres)), Inline: true},
		},
		Footer: footerBrand,
	}
	if len(top) > 0 {
		var b strings.Builder
		for i, s := range top {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s.Name)
		}
		e.Description = "**Most read**\n" + b.String()
	}
	return kit.Message{Embeds: []kit.Embed{e}}
}

func NoResults(query string) string {
	return fmt.Sprintf("No search results found for `%s`", query)
}

// SearchHit is a search result row with its resolved link.
type SearchHit struct {
	Name    string
	Library string
	URL     string
}

// SearchResults lists every hit; the caller sends cards for the first few.
func SearchResults(query string, hits []SearchHit) kit.Message {
	var b strings.Builder
	for i, h := range hits {
		line := fmt.Sprintf("%d. [%s](%s)", i+1, h.Name, h.URL)
		if h.Library != "" {
			line += " · " + h.Library
		}
		line += "\n"
		if b.Len()+len(line) > descMax {
			break
		}
		b.WriteString(line)
	}
	return kit.Message{Embeds: []kit.Embed{{
		Title:       fmt.Sprintf("%s for `%s`", english.Plural(len(hits), "result", "results"), clip(query, 100)),
		Description: strings.TrimRight(b.String(), "\n"),
		Color:       Color,
	}}}
}

// Verbose extends a series card with genres, release year and chapter count.
func Verbose(s Series, chapters int) kit.Message {
	msg := SeriesCard(s)
	e := &msg.Embeds[0]
	var genres []string
	for _, g := range s.Meta.Genres {
		genres = append(genres, g.Title)
	}
	e.Fields = append(e.Fields,
		kit.EmbedField{Name: "Genres", Value: orNone(strings.Join(genres, ", ")), Inline: false},
		kit.EmbedField{Name: "Chapters", Value: humanize.Comma(int64(chapters)), Inline: true},
	)
	if s.Meta.ReleaseYear > 0 {
		e.Fields = append(e.Fields, kit.EmbedField{Name: "Released", Value: fmt.Sprint(s.Meta.ReleaseYear), Inline: true})
	}
	return msg
}

// Digest is the body of a reactable message: one line per mapped title.
func Digest(title, description string, m emoji.Mapping) kit.Message {
	var b strings.Builder
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}
	for _, p := range m {
		line := p.Emoji + ": " + p.Title + "\n"
		if b.Len()+len(line) > descMax {
			break
		}
		b.WriteString(line)
	}
	return kit.Message{Embeds: []kit.Embed{{
		Title:       title,
		Description: strings.TrimRight(b.String(), "\n"),
		Color:       Color,
		Footer:      "Use the emoji reacts below to get more info for the selected series.",
	}}}
}

// ListItem is one subscription row. Name is empty when the lookup failed.
type ListItem struct {
	SeriesID int
	Name     string
}

func SubscriptionList(enabled bool, items []ListItem) kit.Message {
	var b strings.Builder
	for _, it := range items {
		name := it.Name
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("Unknown series (id %d)", it.SeriesID)
		}
		fmt.Fprintf(&b, "- %s (`%d`)\n", name, it.SeriesID)
	}
	state := "enabled"
	if !enabled {
		state = "paused"
	}
	return kit.Message{
		Ephemeral: true,
		Embeds: []kit.Embed{{
			Title:       "Your notifications",
			Description: strings.TrimRight(b.String(), "\n"),
			Color:       Color,
			Footer:      "Notifications " + state,
		}},
	}
}

// NextUpdate phrases a release prediction relative to now.
func NextUpdate(name string, seriesID int, n kavita.NextExpected, now time.Time) string {
	if !n.Known() {
		return fmt.Sprintf("No current chapter update info is known for %s (%d); not enough chapter updates have been gathered to predict the next one.", name, seriesID)
	}
	at := n.ExpectedDate.Time
	date := at.Format("January 02, 2006")
	if !at.After(now) {
		return fmt.Sprintf("Next chapter of %s expected now (%s).", name, date)
	}
	return fmt.Sprintf("Next chapter of %s expected in %s on %s.", name, span(at.Sub(now)), date)
}

func span(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	add := func(n int, unit string) {
		if n <= 0 {
			return
		}
		if n != 1 {
			unit += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, unit))
	}
	add(days, "day")
	add(hours, "hour")
	add(minutes, "minute")
	if len(parts) == 0 {
		return "less than a minute"
	}
	return strings.Join(parts, ", ")
}

func ServerAddress(url string) kit.Message {
	return kit.Message{Embeds: []kit.Embed{{
		Title:       ServerName,
		Description: fmt.Sprintf("Login to the Manga server here:\n\n[**%s**](%s)", ServerName, url),
		URL:         url,
		Color:       Color,
		Footer:      "--Read responsibly!!--",
	}}}
}

type BotStatus struct {
	Version       string
	Started       time.Time
	Jobs          int
	Subscribers   int
	Reactables    int
	Authenticated bool
}

func BotInfo(st BotStatus, now time.Time) kit.Message {
	kav := "connected"
	if !st.Authenticated {
		kav = "not connected"
	}
	return kit.Message{Embeds: []kit.Embed{{
		Title: "kavitabot",
		Color: Color,
		Fields: []kit.EmbedField{
			{Name: "Version", Value: orNone(st.Version), Inline: true},
			{Name: "Up since", Value: humanize.RelTime(st.Started, now, "ago", "from now"), Inline: true},
			{Name: "Kavita", Value: kav, Inline: true},
			{Name: "Scheduled jobs", Value: humanize.Comma(int64(st.Jobs)), Inline: true},
			{Name: "Subscribers", Value: humanize.Comma(int64(st.Subscribers)), Inline: true},
			{Name: "Tracked digests", Value: humanize.Comma(int64(st.Reactables)), Inline: true},
		},
	}}}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
