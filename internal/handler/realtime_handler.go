package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/mentorlink/internal/auth"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/realtime"
	"golang.org/x/net/websocket"
)

// ライブ接続で受け付けるコマンド
const (
	commandMarkRead    = "mark_read"
	commandMarkUnread  = "mark_unread"
	commandMarkAllRead = "mark_all_read"
	commandUnreadCount = "unread_count"
)

const maxCommandBytes = 4 << 10

// Subscriber はユーザーのライブ接続を登録する。
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) *realtime.Subscription
}

// StreamTokenIssuer はライブ接続用のトークンを発行する。
type StreamTokenIssuer interface {
	IssueStreamToken(userID string) (*auth.StreamToken, error)
}

// RealtimeConfig はライブ接続の設定。
type RealtimeConfig struct {
	AllowedOrigin string        // WebSocketで許可するOrigin。空の場合は検証しない
	PingInterval  time.Duration // SSEのキープアライブ間隔
	WriteTimeout  time.Duration // 1フレームの書き込みタイムアウト
}

// RealtimeHandler はWebSocket・SSE・ストリームトークンのHTTPハンドラー。
type RealtimeHandler struct {
	subscriber    Subscriber
	notifications NotificationService
	tokens        StreamTokenIssuer
	cfg           RealtimeConfig
	logger        *slog.Logger
}

// NewRealtimeHandler はRealtimeHandlerを生成する。
func NewRealtimeHandler(
	subscriber Subscriber,
	notifications NotificationService,
	tokens StreamTokenIssuer,
	cfg RealtimeConfig,
	logger *slog.Logger,
) *RealtimeHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeHandler{
		subscriber:    subscriber,
		notifications: notifications,
		tokens:        tokens,
		cfg:           cfg,
		logger:        logger,
	}
}

// liveCommand はクライアントから届くコマンドフレーム。
type liveCommand struct {
	Action         string `json:"action"`
	NotificationID string `json:"notification_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// commandReply はコマンドへの応答フレーム。Typeはackまたはerror。
type commandReply struct {
	Type           string `json:"type"`
	Action         string `json:"action"`
	RequestID      string `json:"request_id,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	UnreadCount    *int   `json:"unread_count,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

type streamTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken はライブ接続用の短命トークンを発行する。
// POST /api/realtime/token
func (h *RealtimeHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tok, err := h.tokens.IssueStreamToken(userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, streamTokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// WebSocket は双方向のライブ接続を提供する。
// GET /api/realtime/ws
func (h *RealtimeHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(ws *websocket.Conn) {
			h.serveWebSocket(ws, userID)
		},
	}.ServeHTTP(w, r)
}

func (h *RealtimeHandler) checkOrigin(config *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(config, r)
	if err != nil {
		return err
	}
	config.Origin = origin
	if h.cfg.AllowedOrigin == "" || origin == nil {
		return nil
	}
	if got := origin.Scheme + "://" + origin.Host; got != h.cfg.AllowedOrigin {
		return fmt.Errorf("許可されていないOriginです: %s", got)
	}
	return nil
}

func (h *RealtimeHandler) serveWebSocket(ws *websocket.Conn, userID string) {
	ws.MaxPayloadBytes = maxCommandBytes
	// Hijack後もサーバーのReadTimeoutによる期限が残っているため解除する
	ws.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(ws.Request().Context())
	defer cancel()

	sub := h.subscriber.Subscribe(ctx, userID)
	defer sub.Close()
	h.sendInitialCount(ctx, sub, userID)

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		return websocket.JSON.Send(ws, v)
	}

	go func() {
		defer cancel()
		h.readCommands(ctx, ws, userID, send)
	}()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := send(msg); err != nil {
				h.logger.Info("ライブ接続への書き込みに失敗したため切断します",
					slog.String("user_id", userID),
					slog.String("conn_id", sub.ID()),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readCommands はクライアントからのコマンドを読み取り、応答を返す。
// 読み取りに失敗した時点で接続は終了したものとみなす。
func (h *RealtimeHandler) readCommands(ctx context.Context, ws *websocket.Conn, userID string, send func(any) error) {
	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			return
		}

		var cmd liveCommand
		if err := json.Unmarshal(frame, &cmd); err != nil {
			send(errorReply(cmd, model.NewInvalidRequestError("コマンドの形式が不正です。")))
			continue
		}

		unread, err := h.execute(ctx, userID, cmd)
		if err != nil {
			if !model.IsCode(err, model.ErrCodeInvalidRequest) {
				h.logger.Warn("ライブ接続のコマンドが失敗しました",
					slog.String("user_id", userID),
					slog.String("action", cmd.Action),
					slog.String("error", err.Error()),
				)
			}
			send(errorReply(cmd, err))
			continue
		}
		send(commandReply{
			Type:           "ack",
			Action:         cmd.Action,
			RequestID:      cmd.RequestID,
			NotificationID: cmd.NotificationID,
			UnreadCount:    knownCount(unread),
		})
	}
}

// execute はコマンドをRESTと同じ通知サービスで実行し、変更後の未読数を返す。
func (h *RealtimeHandler) execute(ctx context.Context, userID string, cmd liveCommand) (int, error) {
	switch cmd.Action {
	case commandMarkRead, commandMarkUnread:
		if cmd.NotificationID == "" {
			return 0, model.NewInvalidRequestError("notification_idは必須です。")
		}
		apply := h.notifications.MarkRead
		if cmd.Action == commandMarkUnread {
			apply = h.notifications.MarkUnread
		}
		result, err := apply(ctx, userID, cmd.NotificationID)
		if err != nil {
			return 0, err
		}
		return result.UnreadCount, nil
	case commandMarkAllRead:
		result, err := h.notifications.MarkAllRead(ctx, userID)
		if err != nil {
			return 0, err
		}
		return result.UnreadCount, nil
	case commandUnreadCount:
		return h.notifications.UnreadCount(ctx, userID)
	default:
		return 0, model.NewInvalidRequestError(fmt.Sprintf("不明なコマンドです: %q", cmd.Action))
	}
}

func errorReply(cmd liveCommand, err error) commandReply {
	reply := commandReply{
		Type:           "error",
		Action:         cmd.Action,
		RequestID:      cmd.RequestID,
		NotificationID: cmd.NotificationID,
		Code:           "INTERNAL_ERROR",
		Message:        "内部エラーが発生しました。",
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		reply.Code = apiErr.Code
		reply.Message = apiErr.Message
	}
	return reply
}

// Events はServer-Sent Eventsによる受信専用のライブ接続を提供する。
// GET /api/realtime/events
func (h *RealtimeHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// サーバー全体の書き込みタイムアウトを長時間接続では無効にする
	rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("SSEのフラッシュに対応していません", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	sub := h.subscriber.Subscribe(ctx, userID)
	defer sub.Close()
	h.sendInitialCount(ctx, sub, userID)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("メッセージのエンコードに失敗しました", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendInitialCount は接続直後の未読数を購読のキューへ積む。
// 登録後に取得するため、先に積まれたプッシュより古い値が最後に届くことはない。
func (h *RealtimeHandler) sendInitialCount(ctx context.Context, sub *realtime.Subscription, userID string) {
	n, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		h.logger.Warn("接続時の未読数を取得できませんでした",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := sub.Send(realtime.UnreadCountMessage(n)); err != nil {
		h.logger.Warn("接続時の未読数を送信できませんでした",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
