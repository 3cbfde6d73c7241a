package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gamefinder/internal/catalog"
	"github.com/hitoshi/gamefinder/internal/metrics"
	"github.com/hitoshi/gamefinder/internal/middleware"
)

// HealthChecker はヘルスチェックでDB疎通を確認するためのインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	HealthChecker HealthChecker

	// セッション・認可
	Auth      AuthService
	Providers ProviderFactory
	Roles     catalog.RoleResolver
	Cookie    CookieConfig

	// カタログ
	Games     catalog.RecordStore
	Platforms []string
	Sanitize  func(string) string

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス（省略可）
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → CORS → Session → Logging → RateLimit(General) → CSRF
//
// 管理者専用ルートにはRequireAdmin、認証系の一部にはRequireSignedInを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var httpRecorder middleware.HTTPRecorder
	var catalogRecorder catalog.Recorder
	if deps.Metrics != nil {
		httpRecorder = deps.Metrics
		catalogRecorder = deps.Metrics
	}

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Cookie.Secure,
		CookieDomain: deps.Cookie.Domain,
	}

	authHandler := NewAuthHandler(deps.Auth, deps.Roles, deps.Cookie, logger)
	gameHandler := NewGameHandler(GameHandlerDeps{
		Providers: deps.Providers,
		Store:     deps.Games,
		Roles:     deps.Roles,
		Platforms: deps.Platforms,
		Sanitize:  deps.Sanitize,
		Recorder:  catalogRecorder,
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用系ルート（セッション・レート制限の外） ---
	r.Get("/health", healthHandler(deps.HealthChecker, logger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Auth, logger))
		r.Use(middleware.NewLoggingMiddleware(logger, httpRecorder))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

		r.Get(middleware.SignInPath, authHandler.SignInPrompt)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.RateLimiter != nil {
					r.Use(deps.RateLimiter.AuthMiddleware())
				}
				r.Post("/signup", authHandler.SignUp)
				r.Post("/signin", authHandler.SignIn)
				r.Get("/confirm", authHandler.Confirm)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSignedIn())
				r.Post("/signout", authHandler.SignOut)
				r.Post("/refresh", authHandler.Refresh)
				r.Get("/me", authHandler.Me)
			})
		})

		r.Route("/games", func(r chi.Router) {
			r.Get("/", gameHandler.List)
			r.Get("/{id}", gameHandler.Show)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(deps.Roles))
				r.Post("/", gameHandler.Create)
				r.Put("/{id}", gameHandler.Update)
				r.Delete("/{id}", gameHandler.Delete)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				logger.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
