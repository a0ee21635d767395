package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"portfolio/internal/api/middleware"
	"portfolio/internal/auth"
	"portfolio/internal/worker"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// WsHandler 负责 WebSocket 鉴权，并把用户通知频道的消息转发给前端。
type WsHandler struct {
	redisClient    redis.UniversalClient
	authService    *auth.AuthService
	profiles       middleware.ProfileLookup
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient redis.UniversalClient, authService *auth.AuthService, profiles middleware.ProfileLookup, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		authService:    authService,
		profiles:       profiles,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// checkOrigin 未配置白名单时只允许同源。
func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type wsReadyMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// wsCloseError 携带需要回写给客户端的关闭码。
type wsCloseError struct {
	code   int
	reason string
	err    error
}

func (e *wsCloseError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *wsCloseError) Unwrap() error { return e.err }

func policyViolation(reason string, err error) error {
	return &wsCloseError{code: websocket.ClosePolicyViolation, reason: reason, err: err}
}

// HandleConnection 升级连接，首条消息完成鉴权后订阅用户通知频道。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("correlation_id", middleware.GetCorrelationID(c)),
	)

	userID, username, err := h.authenticate(ctx, conn)
	if err != nil {
		var closeErr *wsCloseError
		if errors.As(err, &closeErr) {
			writeClose(conn, closeErr.code, closeErr.reason)
		}
		log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(userID)))
	log.Info("websocket authenticated")

	if err := writeJSON(conn, wsReadyMessage{Type: "ready", Username: username}); err != nil {
		log.Info("write ready message failed", slog.Any("error", err))
		return
	}

	errCh := make(chan error, 2)
	go h.readLoop(ctx, conn, errCh, cancel)
	go h.subscribeLoop(ctx, conn, userID, errCh, cancel, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Info("websocket connection closed", slog.Any("error", err))
		} else {
			log.Info("websocket connection closed")
		}
	}
}

// authenticate 读取首条 {type:"auth", token} 消息并确认账号仍然存在。
func (h *WsHandler) authenticate(ctx context.Context, conn *websocket.Conn) (uint, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		return 0, "", fmt.Errorf("read auth message: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var authMsg wsAuthMessage
	if err := json.Unmarshal(message, &authMsg); err != nil {
		return 0, "", policyViolation("invalid auth payload", err)
	}
	if authMsg.Type != "auth" || authMsg.Token == "" {
		return 0, "", policyViolation("auth required", errors.New("invalid auth message"))
	}

	claims, err := h.authService.ValidateTokenType(authMsg.Token, auth.TokenTypeAccess)
	if errors.Is(err, auth.ErrWrongTokenType) {
		return 0, "", policyViolation("access token required", err)
	}
	if err != nil {
		return 0, "", policyViolation("unauthorized", err)
	}
	if claims.MustChangePassword {
		return 0, "", policyViolation("password change required", errors.New("password change required"))
	}

	profile, err := h.profiles.ProfileByUserID(ctx, claims.UserID)
	if err != nil {
		return 0, "", policyViolation("unauthorized", err)
	}
	return claims.UserID, profile.Username, nil
}

// readLoop 丢弃认证后的客户端消息，仅用于感知断开。
func (h *WsHandler) readLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() == nil {
				errCh <- fmt.Errorf("read message: %w", err)
			}
			cancel()
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	userID uint,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := worker.NotifyChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- errors.New("pubsub channel closed")
				cancel()
				return
			}

			log.Debug("forwarding notification", slog.String("channel", channel))
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
