package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	"github.com/noah-isme/movement-gateway/pkg/debounce"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/response"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveMaxMessage = 4 << 10
)

// Live message types.
const (
	LiveQuery   = "query"
	LivePage    = "page"
	LivePending = "pending"
	LiveTable   = "table"
	LiveError   = "error"
)

// Live query fates reported to metrics.
const (
	liveDelivered  = "delivered"
	liveSuperseded = "superseded"
	liveFailed     = "failed"
)

type liveMetrics interface {
	LiveSessionOpened() func()
	RecordLiveQuery(fate string)
}

// LiveMessage is sent by the client on every keystroke or page change.
type LiveMessage struct {
	Type           string   `json:"type"`
	Search         string   `json:"search"`
	Page           int      `json:"page"`
	PerPage        int      `json:"per_page"`
	Status         string   `json:"status"`
	ApprovalStatus []string `json:"approval_status"`
	DateFrom       string   `json:"date_from"`
	DateTo         string   `json:"date_to"`
	Tab            string   `json:"tab"`
}

// apply folds the message into the connection's current query. A new page
// size, search term or filter goes back to the first page; only page
// messages move between pages.
func (m LiveMessage) apply(prev models.ListQuery) models.ListQuery {
	next := models.ListQuery{
		Page:           prev.Page,
		PerPage:        prev.PerPage,
		Search:         prev.Search,
		Status:         m.Status,
		ApprovalStatus: m.ApprovalStatus,
		DateFrom:       m.DateFrom,
		DateTo:         m.DateTo,
		Tab:            m.Tab,
	}.Normalize()
	switch {
	case m.PerPage > 0 && models.SnapPerPage(m.PerPage) != prev.PerPage:
		return next.WithSearch(m.Search).WithPerPage(m.PerPage)
	case strings.TrimSpace(m.Search) != prev.Search:
		return next.WithSearch(m.Search)
	case filtersChanged(prev, next):
		return next.WithPage(1)
	case m.Type == LivePage:
		return next.WithPage(m.Page)
	}
	return next
}

func filtersChanged(a, b models.ListQuery) bool {
	return a.Status != b.Status || a.DateFrom != b.DateFrom || a.DateTo != b.DateTo ||
		a.Tab != b.Tab || !slices.Equal(a.ApprovalStatus, b.ApprovalStatus)
}

// LiveFrame is pushed to the client. Frames carry the sequence number of the
// query they answer; the client drops frames older than its latest.
type LiveFrame struct {
	Type  string             `json:"type"`
	Seq   uint64             `json:"seq"`
	View  *service.TableView `json:"view,omitempty"`
	Error *appErrors.Error   `json:"error,omitempty"`
}

// LiveHandler streams table views over a websocket as the user types.
type LiveHandler struct {
	tables   tableLoader
	metrics  liveMetrics
	wait     time.Duration
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewLiveHandler constructs the handler. An empty origin list accepts any
// origin.
func NewLiveHandler(tables tableLoader, metrics liveMetrics, wait time.Duration, allowedOrigins []string, logger *zap.Logger) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{
		tables:  tables,
		metrics: metrics,
		wait:    wait,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// liveConn serialises writes; gorilla connections allow one writer at a time.
type liveConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (l *liveConn) write(frame LiveFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked(frame)
}

func (l *liveConn) writeLocked(frame LiveFrame) error {
	_ = l.ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return l.ws.WriteJSON(frame)
}

func (l *liveConn) ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait))
}

// Stream godoc
// @Summary Live table search over websocket
// @Description Send {"type":"query",...} on every keystroke and {"type":"page",...} on pagination. Query messages are debounced; results for superseded queries are never sent.
// @Tags Live
// @Param scope path string true "me, monitoring or pending-mda"
// @Param form path string true "Form code"
// @Param access_token query string false "Session token when no Authorization header can be set"
// @Success 101
// @Router /live/{scope}/{form} [get]
func (h *LiveHandler) Stream(c *gin.Context) {
	scope, ok := service.ParseScope(c.Param("scope"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown scope"))
		return
	}
	form, err := formFromPath(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("live upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	done := h.metrics.LiveSessionOpened()
	defer done()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	conn := &liveConn{ws: ws}

	var deb *debounce.Debouncer[models.ListQuery]
	deb = debounce.New(ctx, h.wait, func(ctx context.Context, seq uint64, q models.ListQuery) {
		view, loadErr := h.tables.Load(ctx, scope, form, q)
		conn.mu.Lock()
		defer conn.mu.Unlock()
		if ctx.Err() != nil || seq != deb.Current() {
			h.metrics.RecordLiveQuery(liveSuperseded)
			return
		}
		view.Seq = seq
		frame := LiveFrame{Type: LiveTable, Seq: seq, View: &view}
		fate := liveDelivered
		if loadErr != nil {
			frame.Error = appErrors.FromError(loadErr)
			fate = liveFailed
		}
		h.metrics.RecordLiveQuery(fate)
		if err := conn.writeLocked(frame); err != nil {
			h.logger.Debug("live write failed", zap.Error(err))
			cancel()
		}
	})
	defer deb.Stop()

	ws.SetReadLimit(liveMaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(livePongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go h.keepAlive(ctx, conn)

	current := models.DefaultListQuery()
	deb.Flush(current)
	for {
		var msg LiveMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("live connection closed", zap.Error(err))
			}
			return
		}
		var frame LiveFrame
		switch msg.Type {
		case LiveQuery:
			current = msg.apply(current)
			frame = LiveFrame{Type: LivePending, Seq: deb.Trigger(current)}
		case LivePage:
			current = msg.apply(current)
			deb.Flush(current)
			continue
		default:
			frame = LiveFrame{Type: LiveError, Error: appErrors.Clone(appErrors.ErrBadRequest, "unknown message type")}
		}
		if err := conn.write(frame); err != nil {
			return
		}
	}
}

func (h *LiveHandler) keepAlive(ctx context.Context, conn *liveConn) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
