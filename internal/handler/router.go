package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/middleware"
	"github.com/hitoshi/azarole/internal/model"
	"github.com/hitoshi/azarole/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	SessionStore      session.Store
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// ゲートキーパー
	Users          middleware.UserFinder
	APIKeyVerifier middleware.Authenticator

	AuthService   AuthServiceInterface
	APIKeyService APIKeyServiceInterface
	DB            Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// グローバルミドルウェアの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics → Session
//
// サインイン済みユーザー向けのルートはセッションのゲートキーパー、
// /api 以下はAPIキーのゲートキーパーを通す。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(session.Middleware(deps.SessionStore))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
	})

	authHandler := NewAuthHandler(deps.AuthService)
	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService)
	clockInHandler := NewClockInHandler()

	// --- 認証不要のルート ---
	r.Route("/auth/google", func(r chi.Router) {
		r.Get("/", authHandler.Initiate)
		r.Post("/", authHandler.Initiate)
		r.Get("/callback", authHandler.Callback)
		r.Post("/callback", authHandler.Callback)
	})
	r.Delete("/signout", authHandler.Signout)
	r.Method(http.MethodGet, "/csrf_token", middleware.NewCSRFTokenHandler(deps.CSRF))

	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB).Check)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- サインイン済みユーザー向けのルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.Chain(middleware.RequireSignin(deps.Users, mc)))

		r.Get("/current_user", authHandler.CurrentUser)

		r.Route("/api_keys", func(r chi.Router) {
			r.Get("/", apiKeyHandler.List)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
				r.Post("/", apiKeyHandler.Create)
				r.Delete("/{id}", apiKeyHandler.Delete)
			})
		})
	})

	// --- 機械クライアント向けAPI ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Chain(middleware.RequireAPIKey(deps.APIKeyVerifier, mc)))

		r.Post("/workplaces/{workplace_id}/clock_ins", clockInHandler.Create)
	})

	return r
}
