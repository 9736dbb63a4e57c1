package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/meetapp/internal/auth"
	"github.com/hitoshi/meetapp/internal/config"
	"github.com/hitoshi/meetapp/internal/database"
	"github.com/hitoshi/meetapp/internal/file"
	"github.com/hitoshi/meetapp/internal/handler"
	"github.com/hitoshi/meetapp/internal/listing"
	"github.com/hitoshi/meetapp/internal/logger"
	"github.com/hitoshi/meetapp/internal/mail"
	"github.com/hitoshi/meetapp/internal/meetup"
	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/notification"
	"github.com/hitoshi/meetapp/internal/queue"
	"github.com/hitoshi/meetapp/internal/repository"
	"github.com/hitoshi/meetapp/internal/security"
	"github.com/hitoshi/meetapp/internal/subscription"
	"github.com/hitoshi/meetapp/internal/user"
	"github.com/hitoshi/meetapp/internal/worker/cleanup"
	"github.com/hitoshi/meetapp/internal/worker/dispatch"
)

// cleanupInterval はジョブキューのメンテナンス間隔。
const cleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}

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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("queue_backend", cfg.QueueBackend),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, MigrateAction(args))
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. ジョブキュー
	jobs, closeQueue, err := openQueue(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeQueue()

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	fileRepo := repository.NewPostgresFileRepo(db)
	meetupRepo := repository.NewPostgresMeetupRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)

	// 5. ドメインサービスの初期化
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authService := auth.NewService(userRepo, tokens)
	userService := user.NewService(userRepo)
	meetupService := meetup.NewService(meetupRepo, fileRepo, security.NewTextSanitizer(), collector)
	subService := subscription.NewService(meetupRepo, userRepo, subRepo, jobs, collector, slog.Default())
	listingService := listing.NewService(meetupRepo, subRepo, cfg.Location, cfg.BaseURL)
	fileService := file.NewService(fileRepo, file.Config{
		Dir:       cfg.UploadDir,
		MaxBytes:  cfg.UploadMaxBytes,
		MaxWidth:  cfg.BannerMaxWidth,
		MaxHeight: cfg.BannerMaxHeight,
		MaxPixels: cfg.BannerMaxPixels,
	})

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSubscribe),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenParser:       tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,

		BaseURL:  cfg.BaseURL,
		Location: cfg.Location,
		// multipartのヘッダー分の余裕を持たせる
		UploadMaxBytes: cfg.UploadMaxBytes + 64*1024,

		MeetupService:       meetupService,
		ListingService:      listingService,
		SubscriptionService: subService,
		UserService:         userService,
		SessionService:      authService,
		FileService:         fileService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// ジョブディスパッチャとキューのメンテナンスジョブを起動し、
// ヘルスチェックとメトリクスのエンドポイントを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. ジョブキュー
	jobs, closeQueue, err := openQueue(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeQueue()

	// 3. メール送信
	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}

	// 4. ディスパッチャの初期化
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	dispatcher := dispatch.NewDispatcher(
		jobs, slog.Default(), collector, cfg.JobMaxConcurrent,
		notification.NewSubscriptionMailHandler(mailer, cfg.Location),
	)

	// 5. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(jobs, slog.Default())
	cleanupJob.RetentionDays = cfg.JobRetentionDays
	cleanupJob.StaleAfter = cfg.JobStaleAfter

	// 6. ヘルスチェックとメトリクスの公開
	mux := http.NewServeMux()
	mux.Handle("/health", handler.NewHealthHandler(db))
	mux.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.JobPollInterval),
		slog.Int("max_concurrent", cfg.JobMaxConcurrent),
		slog.Bool("smtp_enabled", cfg.SMTPEnabled()),
	)

	// クリーンアップジョブをバックグラウンドで実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// ディスパッチャをバックグラウンドで実行（ctxキャンセルで停止）
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(ctx, cfg.JobPollInterval)
	}()

	err = serveUntilDone(ctx, server, "worker")
	<-dispatcherDone

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// actionはup（既定）、down（直近1件の取り消し）、version のいずれか。
func runMigrate(cfg *config.Config, action string) error {
	slog.Info("running database migrations",
		slog.String("action", action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackLast(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("rolled back the last migration")
	case MigrateVersion:
		version, dirty, err := database.Version(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}

	return nil
}

// openQueue は設定に従ってジョブキューを生成する。
// 返すclose関数はRedis接続の後始末に使う。
func openQueue(ctx context.Context, cfg *config.Config, db *sql.DB) (queue.Broker, func(), error) {
	if cfg.QueueBackend != config.QueueBackendRedis {
		return queue.NewPostgresQueue(db, cfg.JobMaxAttempts), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}

	q := queue.NewRedisQueue(client, "", cfg.JobMaxAttempts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Ping(pingCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	return q, closeFn, nil
}

// newMailer はSMTPが設定されていればSMTPMailerを、なければLogMailerを返す。
func newMailer(cfg *config.Config) (mail.Mailer, error) {
	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, err
	}
	if !cfg.SMTPEnabled() {
		slog.Warn("SMTP is not configured; mails are written to the log")
		return mail.NewLogMailer(renderer, slog.Default()), nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     mail.Address{Name: "meetapp", Email: cfg.MailFrom},
	}, renderer), nil
}

// newRegistry はプロセス単位のPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
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
