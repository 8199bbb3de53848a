package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/internal/session"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

const wsWriteTimeout = 10 * time.Second

// =============================================================================
// 🔌 编辑器 WebSocket Handler
// =============================================================================

// SocketMetrics 连接数指标
type SocketMetrics interface {
	IncWSConnections()
	DecWSConnections()
}

// SocketConfig WebSocket 配置
type SocketConfig struct {
	// 每个连接的意图速率（每秒），0 表示不限制
	IntentRPS float64
	// 意图突发量
	IntentBurst int
	// 允许的 Origin 模式，空表示只接受同源
	OriginPatterns []string
}

// EditorSocketHandler 实时编辑处理器
type EditorSocketHandler struct {
	sessions *session.Manager
	cfg      SocketConfig
	metrics  SocketMetrics
	logger   *zap.Logger
}

// NewEditorSocketHandler 创建实时编辑处理器；metrics 可为 nil
func NewEditorSocketHandler(sessions *session.Manager, cfg SocketConfig, metrics SocketMetrics, logger *zap.Logger) *EditorSocketHandler {
	return &EditorSocketHandler{
		sessions: sessions,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With(zap.String("handler", "editor_ws")),
	}
}

func (h *EditorSocketHandler) newLimiter() *rate.Limiter {
	if h.cfg.IntentRPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(h.cfg.IntentRPS), max(h.cfg.IntentBurst, 1))
}

// HandleSocket 处理 GET /api/v1/workflows/{id}/ws
// @Summary 实时编辑
// @Description 升级为 WebSocket：连接时推送 snapshot，每次变更推送 change，每个意图回复 result
// @Tags 工作流
// @Param id path string true "工作流 ID"
// @Success 101
// @Router /api/v1/workflows/{id}/ws [get]
func (h *EditorSocketHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)

	// 先打开会话，加载失败时仍可返回普通 HTTP 错误
	sess, sub, err := h.sessions.Subscribe(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	defer sub.Close()

	// 清除 http.Server 设置在底层连接上的读写超时
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("workflow_id", id), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	// 请求 context 只在服务关闭时取消，此时通知客户端稍后重连
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(r.Context(), func() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		cancel()
	})
	defer stop()

	ec := &editorConn{
		id:       id,
		conn:     conn,
		sessions: h.sessions,
		sub:      sub,
		limiter:  h.newLimiter(),
		logger:   h.logger.With(zap.String("workflow_id", id), zap.String("subscriber", sub.ID)),
	}
	ec.logger.Debug("editor connected")

	snap, err := sess.Snapshot()
	if err == nil {
		err = ec.sendSnapshot(ctx, "", snap)
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "failed to send snapshot")
		return
	}

	go ec.pump(ctx, cancel)
	err = ec.readLoop(ctx)

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		ec.logger.Debug("editor disconnected")
	default:
		if ctx.Err() == nil {
			ec.logger.Debug("editor connection ended", zap.Error(err))
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// editorConn 单个编辑器连接；写操作通过 mutex 串行化
type editorConn struct {
	id       string
	conn     *websocket.Conn
	sessions *session.Manager
	sub      *session.Subscription
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu   sync.Mutex
	sent uint64 // 客户端已持有的最高文档版本
}

func (c *editorConn) write(ctx context.Context, msg api.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case api.ServerChange:
		if msg.Version <= c.sent {
			return nil
		}
		c.sent = msg.Version
	case api.ServerSnapshot:
		c.sent = max(c.sent, msg.Version)
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *editorConn) sendSnapshot(ctx context.Context, requestID string, snap workflow.Snapshot) error {
	return c.write(ctx, api.ServerMessage{
		Type:      api.ServerSnapshot,
		RequestID: requestID,
		Version:   snap.Version,
		Snapshot:  &snap,
	})
}

func (c *editorConn) sendError(ctx context.Context, requestID string, err *types.Error) error {
	return c.write(ctx, api.ServerMessage{
		Type:      api.ServerError,
		RequestID: requestID,
		Error:     &api.IntentError{Code: string(err.Code), Message: err.Message},
	})
}

// pump 将会话变更推送给客户端；落后时改发最新快照
func (c *editorConn) pump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-c.sub.C():
			if !ok {
				_ = c.conn.Close(websocket.StatusGoingAway, "editing session closed")
				return
			}
			var err error
			if c.sub.Lagged() {
				var snap workflow.Snapshot
				if snap, err = c.sessions.Snapshot(ctx, c.id); err == nil {
					err = c.sendSnapshot(ctx, "", snap)
				}
			} else {
				err = c.write(ctx, api.NewChangeMessage(ch))
			}
			if err != nil {
				c.logger.Debug("push failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *editorConn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg api.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := c.sendError(ctx, "", types.NewError(types.ErrInvalidRequest, "malformed message")); err != nil {
				return err
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *editorConn) handle(ctx context.Context, msg api.ClientMessage) error {
	switch msg.Type {
	case api.ClientIntent:
		if msg.Intent == nil {
			return c.sendError(ctx, msg.RequestID, types.NewError(types.ErrInvalidRequest, "intent message without intent"))
		}
		if !c.limiter.Allow() {
			return c.sendError(ctx, msg.RequestID, types.NewError(types.ErrRateLimited, "too many intents"))
		}
		res, snap, err := c.sessions.Apply(ctx, c.id, *msg.Intent)
		if err != nil {
			if errors.Is(err, session.ErrClosed) {
				return err
			}
			return c.sendError(ctx, msg.RequestID, ToAPIError(err))
		}
		result := api.NewIntentResult(res)
		return c.write(ctx, api.ServerMessage{
			Type:      api.ServerResult,
			RequestID: msg.RequestID,
			Version:   snap.Version,
			Result:    &result,
		})

	case api.ClientResync:
		snap, err := c.sessions.Snapshot(ctx, c.id)
		if err != nil {
			return c.sendError(ctx, msg.RequestID, ToAPIError(err))
		}
		return c.sendSnapshot(ctx, msg.RequestID, snap)

	default:
		return c.sendError(ctx, msg.RequestID, types.Errorf(types.ErrInvalidRequest, "unknown message type %q", msg.Type))
	}
}
