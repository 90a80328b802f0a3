package telegraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegraph keeps created pages in memory and serves them back.
type fakeTelegraph struct {
	mu    sync.Mutex
	pages map[string]createPageRequest
}

func (f *fakeTelegraph) handler(t *testing.T, pageBase string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/createPage", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req createPageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.AccessToken != "secret" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"ACCESS_TOKEN_INVALID"}`))
			return
		}
		f.mu.Lock()
		path := "Request-" + string(rune('a'+len(f.pages)))
		f.pages[path] = req
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"path": path, "url": pageBase + path},
		})
	})
	mux.HandleFunc("/getPage/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("return_content"))
		path := strings.TrimPrefix(r.URL.Path, "/getPage/")
		f.mu.Lock()
		req, ok := f.pages[path]
		f.mu.Unlock()
		if !ok {
			_, _ = w.Write([]byte(`{"ok":false,"error":"PAGE_NOT_FOUND"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"path": path, "title": req.Title, "content": req.Content},
		})
	})
	return mux
}

func newTestClient(t *testing.T, token string) (*Client, *fakeTelegraph) {
	fake := &fakeTelegraph{pages: map[string]createPageRequest{}}
	pageBase := "https://telegra.ph/"
	srv := httptest.NewServer(fake.handler(t, pageBase))
	t.Cleanup(srv.Close)

	c := NewClient(token,
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithAuthor("ModerBot", "https://t.me/ModerBot"),
		WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	return c, fake
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t, "secret")

	in := records.Record{
		Operation:  "setChatDescription",
		Parameters: map[string]any{"description": "new"},
		Outcome:    "HTTP error occurred: 403.",
	}
	ref, err := c.Write(ctx, in)
	require.NoError(t, err)
	assert.True(t, c.Owns(ref))

	created := fake.pages["Request-a"]
	assert.Equal(t, "ModerBot", created.AuthorName)
	assert.Regexp(t, `^Request #[0-9a-f]{16} \(2024-01-02 03:04:05\)$`, created.Title)
	require.Len(t, created.Content, 1)
	assert.Equal(t, "setChatDescription\n\n{\"description\":\"new\"}\n\nHTTP error occurred: 403.", created.Content[0])

	out, err := c.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteReportsServiceError(t *testing.T) {
	c, _ := newTestClient(t, "wrong")
	_, err := c.Write(context.Background(), records.Record{Operation: "x", Parameters: "", Outcome: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_INVALID")
}

func TestReadRejectsForeignAndMissingPages(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	_, err := c.Read(context.Background(), "https://example.com/Request-a")
	assert.Error(t, err)

	_, err = c.Read(context.Background(), "https://telegra.ph/Request-zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAGE_NOT_FOUND")
}

func TestNodeText(t *testing.T) {
	s, err := nodeText(json.RawMessage(`"plain"`))
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = nodeText(json.RawMessage(`{"tag":"p","children":["a",{"tag":"b","children":["b"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ab\n", s)
}
