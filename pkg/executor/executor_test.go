package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Path string
	Body map[string]interface{}
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  []call
	status int
	body   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, call{Path: r.URL.Path, Body: body})
	f.mu.Unlock()
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func newExecutor(t *testing.T, api *fakeAPI) *Executor {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	catalogue := operations.Builtin()
	table, err := permissions.NewTable(permissions.DefaultEntries(catalogue.Names(), catalogue.ReadOnly()))
	require.NoError(t, err)

	return New("TOKEN", catalogue, table, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

var source = operations.Source{ChatID: -1001, MessageID: 7, UserID: 42}

func TestExecuteSuccess(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true,"result":true}`}
	e := newExecutor(t, api)

	params := map[string]interface{}{"title": "Moderators"}
	res, err := e.Execute(context.Background(), Request{
		Role:       permissions.RoleAdministrator,
		Operation:  "setChatTitle",
		Parameters: params,
		Source:     source,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true, "result": true}, res)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "/botTOKEN/setChatTitle", api.calls[0].Path)
	assert.Equal(t, map[string]interface{}{"title": "Moderators", "chat_id": float64(-1001)}, api.calls[0].Body)
	// the caller's map is left alone
	assert.Equal(t, map[string]interface{}{"title": "Moderators"}, params)
}

func TestExecuteNotPermitted(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true}`}
	e := newExecutor(t, api)

	_, err := e.Execute(context.Background(), Request{
		Role:       permissions.RoleMember,
		Operation:  "setChatTitle",
		Parameters: map[string]interface{}{"title": "x"},
		Source:     source,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, permissions.ErrNotPermitted)
	assert.Empty(t, api.calls)

	_, err = e.Execute(context.Background(), Request{
		Role:      "unknown",
		Operation: "getChatMemberCount",
		Source:    source,
	})
	assert.ErrorIs(t, err, permissions.ErrNotPermitted)
	assert.Empty(t, api.calls)
}

func TestExecuteMemberReadOnly(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true,"result":12}`}
	e := newExecutor(t, api)

	res, err := e.Execute(context.Background(), Request{
		Role:      permissions.RoleMember,
		Operation: "getChatMemberCount",
		Source:    source,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true, "result": float64(12)}, res)
	assert.Equal(t, map[string]interface{}{"chat_id": float64(-1001)}, api.calls[0].Body)
}

func TestExecuteRejectsForgedContext(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true}`}
	e := newExecutor(t, api)

	_, err := e.Execute(context.Background(), Request{
		Role:       permissions.RoleCreator,
		Operation:  "setChatTitle",
		Parameters: map[string]interface{}{"title": "x", "chat_id": float64(5)},
		Source:     source,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat_id")
	assert.Empty(t, api.calls)
}

func TestExecuteInvalidParameters(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true}`}
	e := newExecutor(t, api)

	_, err := e.Execute(context.Background(), Request{
		Role:       permissions.RoleCreator,
		Operation:  "setChatTitle",
		Parameters: map[string]interface{}{"title": ""},
		Source:     source,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid parameters for setChatTitle")
	assert.Empty(t, api.calls)
}

func TestExecuteUnknownOperation(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true}`}
	e := newExecutor(t, api)
	table, err := permissions.NewTable(map[permissions.Role][]string{permissions.RoleCreator: {"*"}})
	require.NoError(t, err)
	e.permissions = table

	_, err = e.Execute(context.Background(), Request{Role: permissions.RoleCreator, Operation: "banChatMember", Source: source})
	assert.ErrorIs(t, err, operations.ErrUnknownOperation)
	assert.Empty(t, api.calls)
}

func TestExecuteHTTPError(t *testing.T) {
	api := &fakeAPI{
		status: http.StatusForbidden,
		body:   `{"ok":false,"error_code":403,"description":"Forbidden: not enough rights"}`,
	}
	e := newExecutor(t, api)

	_, err := e.Execute(context.Background(), Request{
		Role:       permissions.RoleAdministrator,
		Operation:  "setChatDescription",
		Parameters: map[string]interface{}{"description": "new"},
		Source:     source,
	})
	require.Error(t, err)
	assert.Equal(t, "HTTP error occurred: 403 (Forbidden: not enough rights).", err.Error())
	assert.Len(t, api.calls, 1)

	api.body = "nope"
	_, err = e.Execute(context.Background(), Request{
		Role:       permissions.RoleAdministrator,
		Operation:  "setChatDescription",
		Parameters: map[string]interface{}{"description": "new"},
		Source:     source,
	})
	require.Error(t, err)
	assert.Equal(t, "HTTP error occurred: 403.", err.Error())
	// no retry
	assert.Len(t, api.calls, 2)
}

func TestExecuteMalformedResponse(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":`}
	e := newExecutor(t, api)

	_, err := e.Execute(context.Background(), Request{
		Role:      permissions.RoleAdministrator,
		Operation: "unpinAllChatMessages",
		Source:    source,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON decode error occurred")
}

func TestExecuteRecoversPanics(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"ok":true}`}
	e := newExecutor(t, api)
	e.client = nil

	_, err := e.Execute(context.Background(), Request{
		Role:      permissions.RoleAdministrator,
		Operation: "unpinAllChatMessages",
		Source:    source,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operation unpinAllChatMessages failed")
}
