package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/mentorlink/internal/auth"
	"github.com/hitoshi/mentorlink/internal/config"
	"github.com/hitoshi/mentorlink/internal/database"
	"github.com/hitoshi/mentorlink/internal/handler"
	"github.com/hitoshi/mentorlink/internal/logger"
	"github.com/hitoshi/mentorlink/internal/metrics"
	"github.com/hitoshi/mentorlink/internal/middleware"
	"github.com/hitoshi/mentorlink/internal/notification"
	"github.com/hitoshi/mentorlink/internal/poll"
	"github.com/hitoshi/mentorlink/internal/realtime"
	"github.com/hitoshi/mentorlink/internal/repository"
	"github.com/hitoshi/mentorlink/internal/security"
	"github.com/hitoshi/mentorlink/internal/unread"
	"github.com/hitoshi/mentorlink/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// components はserveモードで組み立てる依存関係。
type components struct {
	router      http.Handler
	manager     *poll.Manager
	registry    *realtime.Registry
	rateLimiter *middleware.RateLimiter
	cleanup     *cleanup.Job
}

// wire はDB接続と設定から全依存関係を組み立てる。
// レジストリはプロセス内に1つだけ作り、HTTPの配信と投票マネージャーの結果発表で共有する。
func wire(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) *components {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	pollRepo := repository.NewPostgresPollRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	subjectRepo := repository.NewPostgresSubjectRepo(db)

	// 2. 配信の中核
	registry := realtime.NewRegistry(log, collector, cfg.StreamBufferSize)
	reconciler := unread.NewReconciler(notificationRepo, collector, log)
	router := notification.NewRouter(
		notificationRepo, registry, reconciler, collector, security.NewTextSanitizer(), log,
	)
	notificationService := notification.NewService(notificationRepo, router, log)

	// 3. 週次投票
	manager := poll.NewManager(pollRepo, userRepo, subjectRepo, router, collector, poll.Config{
		Schedule:      cfg.PollSchedule(),
		MaxOptions:    cfg.PollMaxOptions,
		AnnounceBatch: cfg.PollAnnounceBatch,
	}, log)

	// 4. 認証
	authService := auth.NewService(sessionRepo, auth.NewStreamTokens(cfg.SessionSecret, cfg.StreamTokenTTL), log)

	// 5. ルーターの構築（設定値はreq/min、リミッターはreq/secで扱う）
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitVote))

	httpRouter := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:         rateLimiter,
		HealthChecker:       db,
		Metrics:             collector,
		Gatherer:            reg,
		NotificationService: notificationService,
		PollService:         manager,
		Subscriber:          registry,
		TokenIssuer:         authService,
		RealtimeConfig: handler.RealtimeConfig{
			AllowedOrigin: cfg.CORSAllowedOrigin,
			PingInterval:  cfg.StreamPingInterval,
		},
		EventPublisher: router,
		InternalToken:  cfg.InternalAPIToken,
	})

	cleanupJob := cleanup.NewJob(db, log)
	cleanupJob.RetentionDays = cfg.CleanupRetentionDays

	return &components{
		router:      httpRouter,
		manager:     manager,
		registry:    registry,
		rateLimiter: rateLimiter,
		cleanup:     cleanupJob,
	}
}

// runServe はAPIサーバー・ライブ接続・投票マネージャー・クリーンアップジョブを1プロセスで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("データベースに接続しました")

	// 2. 依存関係の組み立て
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c := wire(cfg, db, reg, log)
	defer c.rateLimiter.Stop()

	// ライブ接続のハンドラーはリクエストのコンテキストで終了するため、
	// シャットダウン開始時にベースコンテキストをキャンセルして切断させる
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	// 3. 投票マネージャーとクリーンアップジョブの起動
	jobsCtx, stopJobs := context.WithCancel(ctx)
	var jobs sync.WaitGroup
	jobs.Add(2)
	go func() {
		defer jobs.Done()
		c.manager.Start(jobsCtx, cfg.PollTickInterval)
	}()
	go func() {
		defer jobs.Done()
		c.cleanup.Start(jobsCtx, cfg.CleanupInterval)
	}()

	// 4. HTTPサーバーの起動
	serveErr := make(chan error, 1)
	go func() {
		log.Info("APIサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("server listen error: %w", err)
	}

	log.Info("APIサーバーを停止します",
		slog.Int("live_connections", c.registry.ConnectionCount()),
	)
	cancelBase()
	stopJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	jobs.Wait()

	log.Info("APIサーバーを停止しました")
	return runErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("マイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("マイグレーションが完了しました",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
