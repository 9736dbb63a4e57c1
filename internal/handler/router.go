package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenParser       middleware.TokenParser
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	// 公開URLのベース（バナー画像URLの組み立てに使う）
	BaseURL string
	// タイムゾーンを含まない日時文字列の解釈に使う
	Location *time.Location
	// multipartボディ全体の上限
	UploadMaxBytes int64

	MeetupService       MeetupServiceInterface
	ListingService      ListingServiceInterface
	SubscriptionService SubscriptionServiceInterface
	UserService         UserServiceInterface
	SessionService      SessionServiceInterface
	FileService         FileServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// ユーザー登録・ログイン・画像配信・RSS・ヘルスチェック・メトリクスは認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware("/files/"))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	meetupHandler := NewMeetupHandler(deps.MeetupService, deps.Location)
	listingHandler := NewListingHandler(deps.ListingService, deps.BaseURL, deps.Location)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	userHandler := NewUserHandler(deps.UserService)
	sessionHandler := NewSessionHandler(deps.SessionService)
	fileHandler := NewFileHandler(deps.FileService, deps.BaseURL, deps.UploadMaxBytes)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Post("/users", userHandler.Register)
	r.Post("/sessions", sessionHandler.Login)
	r.Get("/files/{path}", fileHandler.Serve)
	r.Get("/meetups/feed.xml", listingHandler.Feed)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenParser))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Put("/users", userHandler.UpdateProfile)
		r.Post("/files", fileHandler.Upload)

		r.Get("/meetups", listingHandler.ListMeetups)
		r.Post("/meetups", meetupHandler.Create)
		r.Put("/meetups", meetupHandler.Update)
		r.Delete("/meetups/{meetupId}", meetupHandler.Cancel)

		r.Get("/organizing", listingHandler.ListOrganizing)
		r.Get("/organizing/{meetupId}/subscribers", listingHandler.ListSubscribers)

		r.Get("/subscriptions", listingHandler.ListSubscribed)
		// POST /subscriptions - 参加登録（登録専用レート制限を追加）
		r.With(deps.RateLimiter.SubscribeMiddleware()).Post("/subscriptions", subHandler.Subscribe)
	})

	return r
}
