package kavita

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "kavitabot/pkg/logx"
)

var (
	ErrNotAuthenticated = errors.New("kavita: not authenticated")
	ErrNotFound         = errors.New("kavita: not found")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("kavita %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("kavita %s: http %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Observer receives one call per HTTP round trip. status is 0 on
// transport errors.
type Observer interface {
	ObserveRequest(op string, status int, took time.Duration)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithPluginName(name string) Option {
	return func(c *Client) {
		if strings.TrimSpace(name) != "" {
			c.plugin = name
		}
	}
}

// WithPublicURL sets the base used for links shown to users when it
// differs from the API address.
func WithPublicURL(u string) Option {
	return func(c *Client) {
		if strings.TrimSpace(u) != "" {
			c.public = strings.TrimRight(u, "/")
		}
	}
}

func WithObserver(o Observer) Option { return func(c *Client) { c.obs = o } }

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

type Client struct {
	base    string
	public  string
	apiKey  string
	plugin  string
	timeout time.Duration
	http    *http.Client
	obs     Observer
	log     logx.Logger

	mu    sync.RWMutex
	token string
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("kavita: invalid base url %q", baseURL)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("kavita: api key is empty")
	}
	c := &Client{
		base:    strings.TrimRight(u.String(), "/"),
		apiKey:  apiKey,
		plugin:  "kavitabot",
		timeout: 10 * time.Second,
		http:    &http.Client{},
		log:     logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.public == "" {
		c.public = c.base
	}
	return c, nil
}

func (c *Client) BaseURL() string   { return c.base }
func (c *Client) PublicURL() string { return c.public }

func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Authenticate exchanges the API key for a JWT used by every other call.
func (c *Client) Authenticate(ctx context.Context) error {
	q := url.Values{"apiKey": {c.apiKey}, "pluginName": {c.plugin}}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.roundTrip(ctx, "authenticate", http.MethodPost, "/api/Plugin/authenticate", q, nil, "", &out); err != nil {
		return err
	}
	if out.Token == "" {
		return errors.New("kavita: authenticate returned no token")
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	c.log.Info("kavita authenticated", logx.String("base_url", c.base))
	return nil
}

func (c *Client) bearer() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNotAuthenticated
	}
	return c.token, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	tok, err := c.bearer()
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, op, http.MethodGet, path, q, nil, tok, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, q url.Values, body, out any) error {
	tok, err := c.bearer()
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, op, http.MethodPost, path, q, body, tok, out)
}

// roundTrip performs one request. out may be nil, *[]byte for the raw body,
// or a JSON target.
func (c *Client) roundTrip(ctx context.Context, op, method, path string, q url.Values, body any, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kavita %s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("kavita %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, image/*, */*")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, start)
		return fmt.Errorf("kavita %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, start)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("kavita %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: snippet(data)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = data
		return nil
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("kavita %s: decode: %w", op, err)
		}
		return nil
	}
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveRequest(op, status, time.Since(start))
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func idQuery(key string, id int) url.Values { return url.Values{key: {strconv.Itoa(id)}} }

func (c *Client) ServerStats(ctx context.Context) (ServerStats, error) {
	var out ServerStats
	err := c.getJSON(ctx, "server_stats", "/api/Stats/server/stats", nil, &out)
	return out, err
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "health", "/api/Health", nil, nil)
}

func (c *Client) Series(ctx context.Context, id int) (Series, error) {
	var out Series
	err := c.getJSON(ctx, "series", "/api/Series/"+strconv.Itoa(id), nil, &out)
	return out, err
}

func (c *Client) SeriesDetail(ctx context.Context, id int) (SeriesDetail, error) {
	var out SeriesDetail
	err := c.getJSON(ctx, "series_detail", "/api/Series/series-detail", idQuery("seriesId", id), &out)
	return out, err
}

func (c *Client) SeriesMetadata(ctx context.Context, id int) (SeriesMetadata, error) {
	var out SeriesMetadata
	err := c.getJSON(ctx, "series_metadata", "/api/Series/metadata", idQuery("seriesId", id), &out)
	return out, err
}

// ChapterSummary returns the chapter's summary text, which the server sends
// either as a JSON string or as plain text.
func (c *Client) ChapterSummary(ctx context.Context, chapterID int) (string, error) {
	var raw []byte
	if err := c.getJSON(ctx, "chapter_summary", "/api/Metadata/chapter-summary", idQuery("chapterId", chapterID), &raw); err != nil {
		return "", err
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s), nil
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) SeriesCover(ctx context.Context, id int) ([]byte, error) {
	q := idQuery("seriesId", id)
	q.Set("apiKey", c.apiKey)
	var raw []byte
	err := c.getJSON(ctx, "series_cover", "/api/image/series-cover", q, &raw)
	return raw, err
}

func (c *Client) ChapterCover(ctx context.Context, chapterID int) ([]byte, error) {
	q := idQuery("chapterId", chapterID)
	q.Set("apiKey", c.apiKey)
	var raw []byte
	err := c.getJSON(ctx, "chapter_cover", "/api/Image/chapter-cover", q, &raw)
	return raw, err
}

func (c *Client) Search(ctx context.Context, query string) (SearchResult, error) {
	q := url.Values{"queryString": {query}, "includeChapterAndFiles": {"false"}}
	var out SearchResult
	err := c.getJSON(ctx, "search", "/api/Search/search", q, &out)
	return out, err
}

// FindSeries resolves a name to the first search hit.
func (c *Client) FindSeries(ctx context.Context, name string) (SearchHit, error) {
	res, err := c.Search(ctx, name)
	if err != nil {
		return SearchHit{}, err
	}
	if len(res.Series) == 0 {
		return SearchHit{}, ErrNotFound
	}
	return res.Series[0], nil
}

func (c *Client) RecentlyUpdated(ctx context.Context) ([]RecentSeries, error) {
	var out []RecentSeries
	err := c.postJSON(ctx, "recently_updated", "/api/Series/recently-updated-series", nil, struct{}{}, &out)
	return out, err
}

func (c *Client) NextExpected(ctx context.Context, id int) (NextExpected, error) {
	var out NextExpected
	err := c.getJSON(ctx, "next_expected", "/api/Series/next-expected", idQuery("seriesId", id), &out)
	return out, err
}

func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var out []Library
	err := c.getJSON(ctx, "libraries", "/api/Library/libraries", nil, &out)
	return out, err
}

func (c *Client) SeriesInLibrary(ctx context.Context, libraryID int) ([]Series, error) {
	var out []Series
	err := c.postJSON(ctx, "series_in_library", "/api/Series/all", idQuery("libraryId", libraryID), struct{}{}, &out)
	return out, err
}

// InviteRequest mirrors the server's invite payload.
type InviteRequest struct {
	Email          string         `json:"email"`
	Roles          []string       `json:"roles"`
	Libraries      []int          `json:"libraries"`
	AgeRestriction AgeRestriction `json:"ageRestriction"`
}

type AgeRestriction struct {
	AgeRating       int  `json:"ageRating"`
	IncludeUnknowns bool `json:"includeUnknowns"`
}

var defaultRoles = []string{"Download", "Change Password", "Bookmark", "Login", "Promote"}

// Invite asks the server to email an invitation. A rejection that names an
// existing account maps to InviteExists; other failures return InviteFailed
// with the error.
func (c *Client) Invite(ctx context.Context, email string, libraries []int) (InviteOutcome, error) {
	body := InviteRequest{
		Email:          email,
		Roles:          defaultRoles,
		Libraries:      libraries,
		AgeRestriction: AgeRestriction{AgeRating: 0, IncludeUnknowns: true},
	}
	err := c.postJSON(ctx, "invite", "/api/Account/invite", nil, body, nil)
	if err == nil {
		return InviteSent, nil
	}
	var se *StatusError
	if errors.As(err, &se) && (se.Status == http.StatusBadRequest || se.Status == http.StatusConflict) {
		if strings.Contains(strings.ToLower(se.Body), "already") {
			return InviteExists, nil
		}
	}
	return InviteFailed, err
}

func (c *Client) SeriesURL(libraryID, seriesID int) string {
	return fmt.Sprintf("%s/library/%d/series/%d", c.public, libraryID, seriesID)
}
