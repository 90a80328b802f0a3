// Package telegraph stores call records as pages on the telegra.ph paste service.
package telegraph

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL     = "https://api.telegra.ph"
	DefaultPageBaseURL = "https://telegra.ph/"
)

type Client struct {
	http        *http.Client
	baseURL     string
	pageBaseURL string
	token       string
	authorName  string
	authorURL   string
	now         func() time.Time
}

var _ records.Store = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithBaseURL(u string) Option {
	return func(cl *Client) { cl.baseURL = strings.TrimRight(u, "/") }
}

// WithPageBaseURL sets the prefix of page URLs handed out by the service. It
// is used to recognize record links in chat messages.
func WithPageBaseURL(u string) Option {
	return func(cl *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		cl.pageBaseURL = u
	}
}

func WithAuthor(name, authorURL string) Option {
	return func(cl *Client) {
		cl.authorName = name
		cl.authorURL = authorURL
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

func NewClient(token string, options ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		baseURL:     DefaultBaseURL,
		pageBaseURL: DefaultPageBaseURL,
		token:       token,
		now:         time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

type createPageRequest struct {
	AccessToken string   `json:"access_token"`
	Title       string   `json:"title"`
	AuthorName  string   `json:"author_name,omitempty"`
	AuthorURL   string   `json:"author_url,omitempty"`
	Content     []string `json:"content"`
}

type page struct {
	Path    string            `json:"path"`
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	Content []json.RawMessage `json:"content"`
}

type response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result *page  `json:"result"`
}

func (c *Client) title() string {
	id := uuid.New()
	return fmt.Sprintf("Request #%s (%s)", hex.EncodeToString(id[:8]), c.now().Format("2006-01-02 15:04:05"))
}

// Write publishes the record as a new page and returns the page URL.
func (c *Client) Write(ctx context.Context, r records.Record) (string, error) {
	body, err := json.Marshal(createPageRequest{
		AccessToken: c.token,
		Title:       c.title(),
		AuthorName:  c.authorName,
		AuthorURL:   c.authorURL,
		Content:     []string{records.Encode(r)},
	})
	if err != nil {
		return "", errors.Wrap(err, "could not encode createPage request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createPage", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	p, err := c.do(req, "createPage")
	if err != nil {
		return "", err
	}
	if p.URL == "" {
		return "", errors.New("telegraph createPage: response has no url")
	}
	log.Ctx(ctx).Debug().Str("operation", r.Operation).Str("url", p.URL).Msg("wrote call record")
	return p.URL, nil
}

// Read fetches the page behind ref and decodes the record it holds.
func (c *Client) Read(ctx context.Context, ref string) (records.Record, error) {
	path, err := c.pagePath(ref)
	if err != nil {
		return records.Record{}, err
	}
	u := fmt.Sprintf("%s/getPage/%s?return_content=true", c.baseURL, url.PathEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return records.Record{}, err
	}

	p, err := c.do(req, "getPage")
	if err != nil {
		return records.Record{}, err
	}
	if len(p.Content) == 0 {
		return records.Record{}, errors.Wrapf(records.ErrMalformedRecord, "page %s has no content", path)
	}
	text, err := nodeText(p.Content[0])
	if err != nil {
		return records.Record{}, errors.Wrapf(err, "page %s", path)
	}
	return records.Decode(text)
}

func (c *Client) Owns(ref string) bool {
	return strings.HasPrefix(ref, c.pageBaseURL)
}

func (c *Client) pagePath(ref string) (string, error) {
	if !c.Owns(ref) {
		return "", errors.Errorf("%s is not a telegraph page", ref)
	}
	path := strings.Trim(strings.TrimPrefix(ref, c.pageBaseURL), "/")
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", errors.Errorf("%s has no page path", ref)
	}
	return path, nil
}

func (c *Client) do(req *http.Request, method string) (*page, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "telegraph %s", method)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("telegraph %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(err, "telegraph %s: could not decode response", method)
	}
	if !out.OK || out.Result == nil {
		return nil, errors.Errorf("telegraph %s: %s", method, out.Error)
	}
	return out.Result, nil
}

type nodeElement struct {
	Tag      string            `json:"tag"`
	Children []json.RawMessage `json:"children"`
}

// nodeText flattens a telegraph content node, which is either a text string
// or an element with children, back into text.
func nodeText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var el nodeElement
	if err := json.Unmarshal(raw, &el); err != nil {
		return "", errors.Wrap(err, "could not decode content node")
	}
	var b strings.Builder
	for _, child := range el.Children {
		t, err := nodeText(child)
		if err != nil {
			return "", err
		}
		b.WriteString(t)
	}
	if el.Tag == "p" || el.Tag == "br" {
		b.WriteString("\n")
	}
	return b.String(), nil
}
