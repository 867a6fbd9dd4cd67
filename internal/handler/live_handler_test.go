package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
)

// blockingLoader never answers the "slow" search until its context is
// cancelled.
type blockingLoader struct {
	mu       sync.Mutex
	searches []string
}

func (l *blockingLoader) Load(ctx context.Context, scope service.Scope, form models.FormCode, q models.ListQuery) (service.TableView, error) {
	l.mu.Lock()
	l.searches = append(l.searches, q.Search)
	l.mu.Unlock()
	if q.Search == "slow" {
		<-ctx.Done()
		return service.TableView{}, ctx.Err()
	}
	return service.TableView{Scope: scope, Form: form, Query: q, Rows: []service.Row{}}, nil
}

func (l *blockingLoader) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.searches...)
}

type liveMetricsSpy struct {
	mu    sync.Mutex
	open  int
	fates map[string]int
}

func (m *liveMetricsSpy) LiveSessionOpened() func() {
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.open--
		m.mu.Unlock()
	}
}

func (m *liveMetricsSpy) RecordLiveQuery(fate string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fates == nil {
		m.fates = map[string]int{}
	}
	m.fates[fate]++
}

func (m *liveMetricsSpy) count(fate string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fates[fate]
}

func dialLive(t *testing.T, h *LiveHandler, path string) *websocket.Conn {
	t.Helper()
	router := gin.New()
	router.GET("/live/:scope/:form", h.Stream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) LiveFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame LiveFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestLiveHandlerDebouncesAndDropsSupersededResults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	loader := &blockingLoader{}
	metrics := &liveMetricsSpy{}
	h := NewLiveHandler(loader, metrics, 100*time.Millisecond, nil, nil)
	ws := dialLive(t, h, "/live/me/mrf")

	initial := readFrame(t, ws)
	require.Equal(t, LiveTable, initial.Type)
	require.EqualValues(t, 1, initial.Seq)

	for _, term := range []string{"s", "sl", "slo", "slow"} {
		require.NoError(t, ws.WriteJSON(LiveMessage{Type: LiveQuery, Search: term}))
		require.Equal(t, LivePending, readFrame(t, ws).Type)
	}
	require.Eventually(t, func() bool {
		seen := loader.seen()
		return len(seen) == 2 && seen[1] == "slow"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LiveQuery, Search: "slower"}))
	pending := readFrame(t, ws)
	require.Equal(t, LivePending, pending.Type)
	require.EqualValues(t, 6, pending.Seq)

	frame := readFrame(t, ws)
	require.Equal(t, LiveTable, frame.Type)
	require.EqualValues(t, 6, frame.Seq)
	require.NotNil(t, frame.View)
	require.Equal(t, "slower", frame.View.Query.Search)
	require.EqualValues(t, 6, frame.View.Seq)

	require.Equal(t, []string{"", "slow", "slower"}, loader.seen())
	require.Eventually(t, func() bool { return metrics.count(liveSuperseded) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, metrics.count(liveDelivered))
}

func TestLiveHandlerPageChangesSkipTheQuietPeriod(t *testing.T) {
	gin.SetMode(gin.TestMode)
	loader := &blockingLoader{}
	h := NewLiveHandler(loader, &liveMetricsSpy{}, time.Hour, nil, nil)
	ws := dialLive(t, h, "/live/monitoring/data-change")

	require.Equal(t, LiveTable, readFrame(t, ws).Type)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Page: 3, PerPage: 10}))
	frame := readFrame(t, ws)
	require.Equal(t, LiveTable, frame.Type)
	require.Equal(t, 3, frame.View.Query.Page)
	require.Equal(t, 10, frame.View.Query.PerPage)
	require.Equal(t, service.ScopeMonitoring, frame.View.Scope)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Page: 3, PerPage: 25}))
	frame = readFrame(t, ws)
	require.Equal(t, 1, frame.View.Query.Page)
	require.Equal(t, 25, frame.View.Query.PerPage)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Page: 2, PerPage: 25}))
	frame = readFrame(t, ws)
	require.Equal(t, 2, frame.View.Query.Page)
	require.Equal(t, 25, frame.View.Query.PerPage)
}

func TestLiveHandlerSearchReturnsToFirstPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	loader := &blockingLoader{}
	h := NewLiveHandler(loader, &liveMetricsSpy{}, 10*time.Millisecond, nil, nil)
	ws := dialLive(t, h, "/live/me/mrf")

	require.Equal(t, LiveTable, readFrame(t, ws).Type)
	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Page: 3, PerPage: 10}))
	require.Equal(t, 3, readFrame(t, ws).View.Query.Page)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LiveQuery, Search: "Juan", Page: 3, PerPage: 10}))
	require.Equal(t, LivePending, readFrame(t, ws).Type)
	frame := readFrame(t, ws)
	require.Equal(t, LiveTable, frame.Type)
	require.Equal(t, "Juan", frame.View.Query.Search)
	require.Equal(t, 1, frame.View.Query.Page)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Search: "Juan", Page: 2, PerPage: 10}))
	frame = readFrame(t, ws)
	require.Equal(t, "Juan", frame.View.Query.Search)
	require.Equal(t, 2, frame.View.Query.Page)

	require.NoError(t, ws.WriteJSON(LiveMessage{Type: LivePage, Search: "Juan", Page: 2, PerPage: 10, Tab: "returned"}))
	frame = readFrame(t, ws)
	require.Equal(t, 1, frame.View.Query.Page)
	require.Equal(t, "returned", frame.View.Query.Tab)
}

func TestLiveMessageApply(t *testing.T) {
	prev := models.DefaultListQuery().WithPage(4)
	require.Equal(t, 4, LiveMessage{Type: LiveQuery, Page: 4}.apply(prev).Page)
	require.Equal(t, 1, LiveMessage{Type: LiveQuery, Search: " ana "}.apply(prev).Page)
	require.Equal(t, 1, LiveMessage{Type: LivePage, Page: 4, PerPage: 50}.apply(prev).Page)
	require.Equal(t, 7, LiveMessage{Type: LivePage, Page: 7, PerPage: 10}.apply(prev).Page)
	require.Equal(t, 1, LiveMessage{Type: LivePage, Page: 7, ApprovalStatus: []string{"pending"}}.apply(prev).Page)
}

func TestLiveHandlerRejectsUnknownMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewLiveHandler(&blockingLoader{}, &liveMetricsSpy{}, time.Hour, nil, nil)
	ws := dialLive(t, h, "/live/pending-mda/mda")

	require.Equal(t, LiveTable, readFrame(t, ws).Type)
	require.NoError(t, ws.WriteJSON(LiveMessage{Type: "delete"}))
	frame := readFrame(t, ws)
	require.Equal(t, LiveError, frame.Type)
	require.Equal(t, "BAD_REQUEST", frame.Error.Code)
}

func TestLiveHandlerRejectsUnknownScopeBeforeUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewLiveHandler(&blockingLoader{}, &liveMetricsSpy{}, time.Hour, nil, nil)
	router := gin.New()
	router.GET("/live/:scope/:form", h.Stream)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/live/everyone/mrf", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://hr.example.com"})
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://hr.example.com")
	require.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	require.False(t, check(req))
	require.True(t, originChecker(nil)(req))
}
