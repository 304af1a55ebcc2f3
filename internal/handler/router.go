package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mentorlink/internal/metrics"
	"github.com/hitoshi/mentorlink/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker はデータベースの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker HealthChecker
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer

	// ドメイン
	NotificationService NotificationService
	PollService         PollService

	// ライブ接続
	Subscriber     Subscriber
	TokenIssuer    StreamTokenIssuer
	RealtimeConfig RealtimeConfig

	// 内部API（他サービスからのイベント受信）。EventPublisherがnilなら公開しない
	EventPublisher EventPublisher
	InternalToken  string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  REST:  Session → CSRF → RateLimit(General) [→ RateLimit(Vote)]
//	  Live:  StreamAuth → RateLimit(General)
//	  Internal: InternalToken
//
// /health, /metrics, /api/csrf-token は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.StatusMiddleware)
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	notificationHandler := NewNotificationHandler(deps.NotificationService)
	pollHandler := NewPollHandler(deps.PollService)
	realtimeHandler := NewRealtimeHandler(
		deps.Subscriber, deps.NotificationService, deps.TokenIssuer, deps.RealtimeConfig, logger,
	)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 内部API ---
	// 内部ネットワークのサービスが共有トークンで呼び出す。セッションとCSRFは使わない
	if deps.EventPublisher != nil {
		eventHandler := NewEventHandler(deps.EventPublisher)
		r.With(middleware.NewInternalTokenMiddleware(deps.InternalToken)).
			Post("/internal/events", eventHandler.Publish)
	}

	// --- ライブ接続 ---
	// Cookieを送れないクライアントのため ?token= も受け付ける
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewStreamAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/realtime/ws", realtimeHandler.WebSocket)
		r.Get("/api/realtime/events", realtimeHandler.Events)
	})

	// --- REST ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/realtime/token", realtimeHandler.IssueToken)

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Put("/read-all", notificationHandler.MarkAllRead)
			r.Delete("/read", notificationHandler.DeleteAllRead)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/read", notificationHandler.MarkRead)
				r.Put("/unread", notificationHandler.MarkUnread)
				r.Delete("/", notificationHandler.Delete)
			})
		})

		r.Route("/api/polls", func(r chi.Router) {
			r.Get("/", pollHandler.List)
			r.Get("/current", pollHandler.Current)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", pollHandler.Get)
				r.With(deps.RateLimiter.VoteMiddleware()).Post("/votes", pollHandler.CastVote)
			})
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はデータベースへの疎通を確認する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("ヘルスチェックでデータベースに接続できません", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
