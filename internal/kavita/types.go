package kavita

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Time accepts the timestamp layouts Kavita emits; most omit the zone and
// are treated as UTC.
type Time struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var firstErr error
	for _, layout := range timeLayouts {
		v, err := time.Parse(layout, s)
		if err == nil {
			t.Time = v.UTC()
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

type Series struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	LibraryID  int    `json:"libraryId"`
	FolderPath string `json:"folderPath,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	Created    Time   `json:"created"`
}

type Chapter struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Range   string `json:"range"`
	Number  string `json:"number"`
	Pages   int    `json:"pages"`
	Created Time   `json:"created"`
}

// Label is the display name: title, then range, then number.
func (c Chapter) Label() string {
	for _, s := range []string{c.Title, c.Range, c.Number} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "Chapter"
}

type Volume struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Chapters []Chapter `json:"chapters"`
}

type SeriesDetail struct {
	Specials []Chapter `json:"specials"`
	Chapters []Chapter `json:"chapters"`
	Volumes  []Volume  `json:"volumes"`
}

// AllChapters flattens volumes, loose chapters and specials, dropping
// duplicates by id.
func (d SeriesDetail) AllChapters() []Chapter {
	seen := map[int]bool{}
	var out []Chapter
	add := func(cs []Chapter) {
		for _, c := range cs {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	add(d.Chapters)
	for _, v := range d.Volumes {
		add(v.Chapters)
	}
	add(d.Specials)
	return out
}

// Recent returns up to n chapters, newest first.
func (d SeriesDetail) Recent(n int) []Chapter {
	all := d.AllChapters()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Created.After(all[j].Created.Time) })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Since returns up to max chapters created at or after cutoff, newest first.
// When none qualify it falls back to the fallback most recent chapters.
func (d SeriesDetail) Since(cutoff time.Time, max, fallback int) []Chapter {
	recent := d.Recent(-1)
	var out []Chapter
	for _, c := range recent {
		if c.Created.Before(cutoff) {
			break
		}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(recent) > fallback {
		recent = recent[:fallback]
	}
	return recent
}

type Person struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type SeriesMetadata struct {
	SeriesID int      `json:"seriesId"`
	Summary  string   `json:"summary"`
	Writers  []Person `json:"writers"`
	Genres   []struct {
		Title string `json:"title"`
	} `json:"genres"`
	PublicationStatus int `json:"publicationStatus"`
	ReleaseYear       int `json:"releaseYear"`
}

func (m SeriesMetadata) Author() string {
	if len(m.Writers) == 0 || strings.TrimSpace(m.Writers[0].Name) == "" {
		return "Unknown"
	}
	return m.Writers[0].Name
}

type StatCount struct {
	Value Series `json:"value"`
	Count int    `json:"count"`
}

type ServerStats struct {
	ChapterCount   int         `json:"chapterCount"`
	VolumeCount    int         `json:"volumeCount"`
	SeriesCount    int         `json:"seriesCount"`
	TotalFiles     int         `json:"totalFiles"`
	TotalSize      int64       `json:"totalSize"`
	TotalGenres    int         `json:"totalGenres"`
	TotalTags      int         `json:"totalTags"`
	TotalPeople    int         `json:"totalPeople"`
	MostReadSeries []StatCount `json:"mostReadSeries"`
}

// TopSeries returns the first n most-read series whose folder path does not
// start with excludePrefix.
func (s ServerStats) TopSeries(excludePrefix string, n int) []Series {
	var out []Series
	for _, sc := range s.MostReadSeries {
		if excludePrefix != "" && strings.HasPrefix(sc.Value.FolderPath, excludePrefix) {
			continue
		}
		out = append(out, sc.Value)
		if len(out) == n {
			break
		}
	}
	return out
}

type SearchHit struct {
	SeriesID    int    `json:"seriesId"`
	Name        string `json:"name"`
	LibraryID   int    `json:"libraryId"`
	LibraryName string `json:"libraryName"`
}

type SearchResult struct {
	Series []SearchHit `json:"series"`
}

type RecentSeries struct {
	SeriesID    int    `json:"seriesId"`
	SeriesName  string `json:"seriesName"`
	LibraryID   int    `json:"libraryId"`
	LibraryName string `json:"libraryName"`
	Created     Time   `json:"created"`
}

type NextExpected struct {
	ExpectedDate  Time    `json:"expectedDate"`
	ChapterNumber float64 `json:"chapterNumber"`
	VolumeNumber  float64 `json:"volumeNumber"`
	Title         string  `json:"title"`
}

// Known reports whether the server has a prediction.
func (n NextExpected) Known() bool { return !n.ExpectedDate.IsZero() }

type Library struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type InviteOutcome string

const (
	InviteSent   InviteOutcome = "success"
	InviteExists InviteOutcome = "already-exists"
	InviteFailed InviteOutcome = "failure"
)
