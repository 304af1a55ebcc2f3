package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/mentorlink/internal/event"
	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/notification"
	"github.com/hitoshi/mentorlink/internal/realtime"
)

// maxEventBodyBytes は内部イベント1件あたりのリクエストボディの上限。
const maxEventBodyBytes = 64 << 10

// EventPublisher は受け取ったドメインイベントを通知として配信する。notification.Routerが実装する。
type EventPublisher interface {
	Publish(ctx context.Context, recipient string, e event.Event) (*notification.DeliveryOutcome, error)
}

// EventHandler は他サービスから届くドメインイベントのHTTPハンドラー。
type EventHandler struct {
	publisher EventPublisher
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(publisher EventPublisher) *EventHandler {
	return &EventHandler{publisher: publisher}
}

type eventRequest struct {
	Type      model.NotificationType `json:"type"`
	Recipient string                 `json:"recipient"`
	Fields    json.RawMessage        `json:"fields"`
}

type eventResponse struct {
	Notification *realtime.NotificationPayload `json:"notification"`
	Live         int                           `json:"live"`
	Delivered    int                           `json:"delivered"`
}

// Publish はイベントを受信者宛ての通知として保存し、ライブ接続へ配信する。
// POST /internal/events
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		handleServiceError(w, r, model.NewInvalidRequestError("リクエストボディが不正です。"))
		return
	}
	if req.Recipient == "" {
		handleServiceError(w, r, model.NewInvalidRequestError("recipientは必須です。"))
		return
	}

	e, err := event.Decode(req.Type, req.Fields)
	switch {
	case errors.Is(err, event.ErrUnknownType):
		handleServiceError(w, r, model.NewInvalidRequestError("未定義のイベント種別です: "+string(req.Type)))
		return
	case err != nil:
		handleServiceError(w, r, model.NewInvalidRequestError("fieldsが不正です: "+err.Error()))
		return
	}

	outcome, err := h.publisher.Publish(r.Context(), req.Recipient, e)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{
		Notification: realtime.ToPayload(outcome.Notification),
		Live:         outcome.Live,
		Delivered:    outcome.Delivered,
	})
}
