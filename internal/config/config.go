// Package config はアプリケーション設定と秘密情報の読み込みを提供する。
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv は設定ファイルのパスを指定する環境変数名。
const ConfigPathEnv = "AZAROLE_CONFIG"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回だけ構築し、以後はイミュータブルとして共有する。
type Config struct {
	BaseURL  string        `yaml:"base_url" env:"BASE_URL" validate:"required,url"`
	LogLevel string        `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Server   ServerConfig  `yaml:"server"`
	Session  SessionConfig `yaml:"session"`
	Redis    RedisConfig   `yaml:"redis"`
	Google   GoogleConfig  `yaml:"google"`
	CORS     CORSConfig    `yaml:"cors"`

	// Secrets は環境変数からのみ読み込む。設定ファイルには書かない。
	Secrets Secrets `yaml:"-"`

	// 以下はBaseURLから導出される。
	RedirectURL  string `yaml:"-"`
	CookieSecure bool   `yaml:"-"`
}

// ServerConfig はHTTPサーバーの待ち受け設定。
type ServerConfig struct {
	Bind string `yaml:"bind" env:"SERVER_BIND" validate:"required"`
	Port string `yaml:"port" env:"SERVER_PORT" validate:"required,numeric"`
}

// SessionConfig はセッションストアの設定。
type SessionConfig struct {
	Store        string        `yaml:"store" env:"SESSION_STORE" validate:"oneof=cookie redis"`
	MaxAge       time.Duration `yaml:"max_age" env:"SESSION_MAX_AGE" validate:"gt=0"`
	CookieDomain string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
}

// RedisConfig はRedisセッションストアの接続設定。
type RedisConfig struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" validate:"required"`
}

// GoogleConfig はGoogle IdPのエンドポイントと外部呼び出しの設定。
type GoogleConfig struct {
	AuthURL             string        `yaml:"auth_url" env:"GOOGLE_AUTH_URL" validate:"required,url"`
	TokenURL            string        `yaml:"token_url" env:"GOOGLE_TOKEN_URL" validate:"required,url"`
	JWKSURL             string        `yaml:"jwks_url" env:"GOOGLE_JWKS_URL" validate:"required,url"`
	Issuers             []string      `yaml:"issuers"`
	HTTPTimeout         time.Duration `yaml:"http_timeout" env:"GOOGLE_HTTP_TIMEOUT" validate:"gt=0"`
	JWKSCacheTTL        time.Duration `yaml:"jwks_cache_ttl" env:"GOOGLE_JWKS_CACHE_TTL" validate:"gte=0"`
	JWKSRefetchInterval time.Duration `yaml:"jwks_refetch_interval" env:"GOOGLE_JWKS_REFETCH_INTERVAL" validate:"gte=0"`
}

// CORSConfig はCORSの許可オリジン設定。
type CORSConfig struct {
	AllowedOrigin string `yaml:"allowed_origin" env:"CORS_ALLOWED_ORIGIN" validate:"required"`
}

// MinSessionKeyLength はCookieセッションストアの鍵の最小バイト数。
const MinSessionKeyLength = 32

// Secrets は認証コアが使用する秘密情報をまとめた値。
// プロセス起動時に一度だけ構築し、参照で各コンポーネントに渡す。
type Secrets struct {
	GoogleClientID     string `env:"GOOGLE_AUTH_CLIENT_ID,required" validate:"required"`
	GoogleClientSecret string `env:"GOOGLE_AUTH_CLIENT_SECRET,required" validate:"required"`
	DatabaseURL        string `env:"DATABASE_URL,required" validate:"required"`

	APIKeyDigestingSecretKeyBase64 string `env:"API_KEY_DIGESTING_SECRET_KEY,required"`
	SessionKeyBase64               string `env:"SESSION_KEY"`

	// Base64デコード済みの生バイト列。
	// SessionKeyはCookieセッションストアでのみ使用し、その場合は32バイト以上必須。
	APIKeyDigestingSecretKey []byte `validate:"min=1"`
	SessionKey               []byte
}

// String は秘密情報を出力しない。
func (s Secrets) String() string {
	return "Secrets{REDACTED}"
}

// LogValue はslogで秘密情報が出力されないようにする。
func (s Secrets) LogValue() slog.Value {
	return slog.StringValue("REDACTED")
}

// Default はデフォルト値を設定したConfigを返す。
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Bind: "0.0.0.0",
			Port: "8080",
		},
		Session: SessionConfig{
			Store:  "cookie",
			MaxAge: 24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Google: GoogleConfig{
			AuthURL:             "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:            "https://oauth2.googleapis.com/token",
			JWKSURL:             "https://www.googleapis.com/oauth2/v3/certs",
			Issuers:             []string{"https://accounts.google.com", "accounts.google.com"},
			HTTPTimeout:         10 * time.Second,
			JWKSRefetchInterval: time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigin: "http://localhost:3000",
		},
	}
}

// Load はデフォルト値、設定ファイル、環境変数の順に重ねてConfigを構築する。
// pathが空の場合はAZAROLE_CONFIG環境変数のパスを使用し、それも空なら設定ファイルは読まない。
// カレントディレクトリの.envは既存の環境変数を上書きせずに読み込む。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Secrets.decode(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.RedirectURL = cfg.BaseURL + "/auth/google/callback"
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (s *Secrets) decode() error {
	var err error
	s.APIKeyDigestingSecretKey, err = base64.StdEncoding.DecodeString(s.APIKeyDigestingSecretKeyBase64)
	if err != nil {
		return fmt.Errorf("API_KEY_DIGESTING_SECRET_KEY is not valid base64: %w", err)
	}
	s.SessionKey, err = base64.StdEncoding.DecodeString(s.SessionKeyBase64)
	if err != nil {
		return fmt.Errorf("SESSION_KEY is not valid base64: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate はConfigの各フィールドを検証する。
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Session.Store == "cookie" && len(cfg.Secrets.SessionKey) < MinSessionKeyLength {
		return fmt.Errorf("invalid configuration: SESSION_KEY must be at least %d bytes for the cookie session store", MinSessionKeyLength)
	}
	return nil
}
