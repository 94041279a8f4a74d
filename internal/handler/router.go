package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authorizer        middleware.Authorizer
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	// MetricsHandler が nil の場合 /metrics は公開しない。
	MetricsHandler http.Handler

	FileService   FileServiceInterface
	MaxUploadSize int64
	UserService   UserServiceInterface
	AuthService   AuthServiceInterface

	// 稼働状況
	RedisPinger Pinger
	DBPinger    Pinger
	UserCounter Counter
	FileCounter Counter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → CORS → SecurityHeaders
//	  → (認証ルートのみ) Session → RateLimit(General)
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
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	fileHandler := NewFileHandler(deps.FileService, deps.MaxUploadSize)
	userHandler := NewUserHandler(deps.UserService)
	authHandler := NewAuthHandler(deps.AuthService)
	statusHandler := NewStatusHandler(deps.RedisPinger, deps.DBPinger, deps.UserCounter, deps.FileCounter)

	// --- 認証不要のルート ---
	r.Get("/health", statusHandler.Health)
	r.Get("/status", statusHandler.Status)
	r.Get("/stats", statusHandler.Stats)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/users", userHandler.Register)
		r.Get("/connect", authHandler.Connect)
		r.Get("/disconnect", authHandler.Disconnect)

		// 公開ファイルはトークン無しで読み出せる。可視性の判定はサービス層で行う。
		r.Get("/files/{id}/data", fileHandler.Data)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authorizer))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users/me", userHandler.Me)

		// POST /files - 登録（アップロード専用レート制限を追加）
		r.With(deps.RateLimiter.UploadMiddleware()).Post("/files", fileHandler.Create)
		r.Get("/files", fileHandler.List)
		r.Get("/files/{id}", fileHandler.Get)
		r.Put("/files/{id}/publish", fileHandler.Publish)
		r.Put("/files/{id}/unpublish", fileHandler.Unpublish)
	})

	return r
}
