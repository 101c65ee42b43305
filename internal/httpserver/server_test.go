package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/httpserver/deps"
	"github.com/MrSnakeDoc/shelf/internal/liveview"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/metrics"
	"github.com/MrSnakeDoc/shelf/internal/session"
	"github.com/MrSnakeDoc/shelf/internal/snapshot"
	redisstore "github.com/MrSnakeDoc/shelf/internal/store/redis"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var viewIDPattern = regexp.MustCompile(`const viewID = "([^"]+)"`)

type harness struct {
	srv      *httptest.Server
	mr       *miniredis.Miniredis
	store    *redisstore.Store
	sessions *session.Gateway
	metrics  *metrics.Metrics
	client   *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Nop()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redisstore.NewStore(rdb, log, redisstore.WithSubscribeTimeout(2*time.Second))
	sessions := session.NewGateway(session.Config{Secret: testSecret}, store)
	m := metrics.New(store.LiveSubscriptions)

	d := deps.Deps{
		Logger:           log,
		StartTime:        time.Now(),
		Version:          "test",
		AuthBurst:        100,
		AuthRefillPerMin: 100,
		LoginPath:        "/login",
		Sessions:         sessions,
		Snapshots:        snapshot.NewLoader(store, log),
		Views:            liveview.NewRegistry(time.Minute, m.PendingViews),
		Store:            liveview.Backend{Store: store},
		Backend:          store,
		Metrics:          m,
		HighlightWindow:  time.Second,
		RequestTimeout:   2 * time.Second,
	}

	srv := httptest.NewServer(NewRouter(log, d))
	t.Cleanup(srv.Close)

	return &harness{
		srv:      srv,
		mr:       mr,
		store:    store,
		sessions: sessions,
		metrics:  m,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (h *harness) get(t *testing.T, path, cookie string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: cookie})
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) token(t *testing.T, user string) string {
	t.Helper()
	tok, err := h.sessions.Mint(user, user+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) openView(t *testing.T, cookie string) *websocket.Conn {
	t.Helper()
	resp := h.get(t, "/bookmarks", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	m := viewIDPattern.FindSubmatch(body)
	require.NotNil(t, m, "page does not embed a view id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/bookmarks/live?view=" + url.QueryEscape(string(m[1]))
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{h.sessions.CookieName() + "=" + cookie}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

type frame struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	View     struct {
		Items []struct {
			ID      string `json:"id"`
			OwnerID string `json:"owner_id"`
			Title   string `json:"title"`
			Recent  bool   `json:"recent"`
		} `json:"items"`
		Count  int    `json:"count"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"view"`
}

func (f frame) titles() []string {
	out := make([]string, len(f.View.Items))
	for i, it := range f.View.Items {
		out[i] = it.Title
	}
	return out
}

// await reads frames until cond holds.
func await(t *testing.T, conn *websocket.Conn, cond func(frame) bool) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		if cond(f) {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, cmd liveview.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, cmd))
}

func TestProtectedPrefixRedirectsToLogin(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/bookmarks", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = h.get(t, "/login", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthCallback(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/auth/callback?token=garbage", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?error=invalid", resp.Header.Get("Location"))

	tok := h.token(t, "user-1")
	resp = h.get(t, "/auth/callback?token="+url.QueryEscape(tok), "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/bookmarks", resp.Header.Get("Location"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == h.sessions.CookieName() {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, tok, cookie.Value)

	resp = h.get(t, "/bookmarks", cookie.Value)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBookmarksPageRendersSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.Insert(ctx, domain.Draft{Title: "Go", URL: "https://go.dev"}, "user-1")
	require.NoError(t, err)
	_, err = h.store.Insert(ctx, domain.Draft{Title: "Secret", URL: "https://other.dev"}, "user-2")
	require.NoError(t, err)

	resp := h.get(t, "/bookmarks", h.token(t, "user-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), "https://go.dev")
	assert.NotContains(t, string(body), "https://other.dev")
	assert.Regexp(t, viewIDPattern, string(body))
}

func TestLiveViewEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tok := h.token(t, "user-1")

	conn := h.openView(t, tok)
	await(t, conn, func(f frame) bool { return f.Type == "state" && f.View.Status == "connected" })

	send(t, conn, liveview.Command{Type: "add", Title: "HN", URL: "https://news.ycombinator.com"})
	f := await(t, conn, func(f frame) bool { return f.View.Count == 1 })
	assert.Equal(t, []string{"HN"}, f.titles())
	assert.True(t, f.View.Items[0].Recent)
	hnID := f.View.Items[0].ID

	// another tab of the same user, and someone else
	_, err := h.store.Insert(ctx, domain.Draft{Title: "Go", URL: "https://go.dev"}, "user-1")
	require.NoError(t, err)
	_, err = h.store.Insert(ctx, domain.Draft{Title: "Intruder", URL: "https://evil.dev"}, "user-2")
	require.NoError(t, err)
	f = await(t, conn, func(f frame) bool { return f.View.Count == 2 })
	assert.Equal(t, []string{"Go", "HN"}, f.titles())

	send(t, conn, liveview.Command{Type: "add", Title: "", URL: "not a url"})
	f = await(t, conn, func(f frame) bool { return f.View.Error != "" })
	assert.Equal(t, 2, f.View.Count)

	send(t, conn, liveview.Command{Type: "delete", ID: hnID})
	f = await(t, conn, func(f frame) bool { return f.View.Count == 1 })
	assert.Equal(t, []string{"Go"}, f.titles())

	rows, err := h.store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	send(t, conn, liveview.Command{Type: "signout"})
	f = await(t, conn, func(f frame) bool { return f.Type == "redirect" })
	assert.Equal(t, "/login", f.Location)

	require.Eventually(t, func() bool { return h.store.LiveSubscriptions() == 0 }, 2*time.Second, 10*time.Millisecond)

	resp := h.get(t, "/bookmarks", tok)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestSignOutInOneTabEndsWritesInOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tok := h.token(t, "user-1")

	tabA := h.openView(t, tok)
	tabB := h.openView(t, tok)
	await(t, tabA, func(f frame) bool { return f.View.Status == "connected" })
	await(t, tabB, func(f frame) bool { return f.View.Status == "connected" })

	send(t, tabA, liveview.Command{Type: "signout"})
	await(t, tabA, func(f frame) bool { return f.Type == "redirect" })

	send(t, tabB, liveview.Command{Type: "add", Title: "HN", URL: "https://news.ycombinator.com"})
	f := await(t, tabB, func(f frame) bool { return f.Type == "redirect" })
	assert.Equal(t, "/login", f.Location)

	rows, err := h.store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.Eventually(t, func() bool { return h.store.LiveSubscriptions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClosingSocketUnmountsView(t *testing.T) {
	h := newHarness(t)
	conn := h.openView(t, h.token(t, "user-1"))
	await(t, conn, func(f frame) bool { return f.View.Status == "connected" })
	require.Equal(t, 1, h.store.LiveSubscriptions())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "tab closed"))

	require.Eventually(t, func() bool { return h.store.LiveSubscriptions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveRejectsUnknownOrForeignView(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/bookmarks", h.token(t, "user-1"))
	body, _ := io.ReadAll(resp.Body)
	viewID := string(viewIDPattern.FindSubmatch(body)[1])

	resp = h.get(t, "/bookmarks/live?view="+viewID, h.token(t, "user-2"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.get(t, "/bookmarks/live?view=nope", h.token(t, "user-1"))
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestSignOutForm(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, "user-1")

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/bookmarks/signout", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: tok})
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = h.get(t, "/bookmarks", tok)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestOpsEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.get(t, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ready map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.Equal(t, true, ready["ready"])

	resp = h.get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "shelf_live_subscriptions")

	h.mr.Close()
	resp = h.get(t, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
