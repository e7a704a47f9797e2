// Package app はコマンドの実行と依存関係の組み立てを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/azarole/internal/apikey"
	"github.com/hitoshi/azarole/internal/auth"
	"github.com/hitoshi/azarole/internal/config"
	"github.com/hitoshi/azarole/internal/database"
	"github.com/hitoshi/azarole/internal/handler"
	"github.com/hitoshi/azarole/internal/logger"
	"github.com/hitoshi/azarole/internal/metrics"
	"github.com/hitoshi/azarole/internal/middleware"
	"github.com/hitoshi/azarole/internal/repository"
	"github.com/hitoshi/azarole/internal/security"
	"github.com/hitoshi/azarole/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Init はログを初期化し、設定を読み込む。
// configPathが空の場合はAZAROLE_CONFIG環境変数を参照する。
func Init(w io.Writer, configPath string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. 設定ファイルと環境変数から設定を読み込む
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level.Set(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// runServe はAPIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	slog.Info("starting application",
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.Session.Store),
		slog.String("database_url", maskDatabaseURL(cfg.Secrets.DatabaseURL)),
	)

	// 1. DB接続
	db, err := database.Open(cfg.Secrets.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identityRepo := repository.NewPostgresIdentityRepo(db)
	apiKeyRepo := repository.NewPostgresAPIKeyRepo(db)

	// 3. セッションストア
	store, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 5. ドメインサービスの初期化
	digester, err := security.NewTokenDigester(cfg.Secrets.APIKeyDigestingSecretKey)
	if err != nil {
		return fmt.Errorf("failed to create api key digester: %w", err)
	}
	authService := auth.NewGoogleService(googleConfig(cfg), identityRepo, mc)
	apiKeyService := apikey.NewService(apiKeyRepo, digester, mc)

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORS.AllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.Session.CookieDomain,
		},
		SessionStore:   store,
		Metrics:        mc,
		MetricsHandler: metrics.Handler(reg),
		Users:          userRepo,
		APIKeyVerifier: apiKeyService,
		AuthService:    authService,
		APIKeyService:  apiKeyService,
		DB:             db,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Bind, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-stop:
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newSessionStore は設定に応じたセッションストアと、その後始末の関数を返す。
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	opts := session.CookieOptions{
		Domain: cfg.Session.CookieDomain,
		MaxAge: cfg.Session.MaxAge,
		Secure: cfg.CookieSecure,
	}

	switch cfg.Session.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis session store connected", slog.String("addr", cfg.Redis.Addr))
		return session.NewRedisStore(client, opts), func() { client.Close() }, nil
	default:
		store, err := session.NewCookieStore(cfg.Secrets.SessionKey, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create cookie session store: %w", err)
		}
		return store, func() {}, nil
	}
}

// googleConfig は設定と秘密情報からGoogleプロバイダーの設定を組み立てる。
func googleConfig(cfg *config.Config) auth.GoogleConfig {
	return auth.GoogleConfig{
		ClientID:            cfg.Secrets.GoogleClientID,
		ClientSecret:        cfg.Secrets.GoogleClientSecret,
		RedirectURL:         cfg.RedirectURL,
		AuthURL:             cfg.Google.AuthURL,
		TokenURL:            cfg.Google.TokenURL,
		JWKSURL:             cfg.Google.JWKSURL,
		Issuers:             cfg.Google.Issuers,
		HTTPTimeout:         cfg.Google.HTTPTimeout,
		JWKSCacheTTL:        cfg.Google.JWKSCacheTTL,
		JWKSRefetchInterval: cfg.Google.JWKSRefetchInterval,
	}
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.Secrets.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.Secrets.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck は /health にリクエストを送り、200以外をエラーとする。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://127.0.0.1:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
