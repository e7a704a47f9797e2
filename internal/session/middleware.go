package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey struct{}

// ErrNoSession はコンテキストにセッションがない場合に返される。
var ErrNoSession = errors.New("session not found in context")

// FromContext はミドルウェアが読み込んだセッションを返す。
func FromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// NewContext はセッションを格納したコンテキストを返す。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// Middleware はリクエストごとにセッションを読み込み、コンテキストに格納するミドルウェアを返す。
// セッションはレスポンスヘッダーの書き込み直前（またはハンドラー終了時）に保存される。
// ストアに到達できない場合は500を返す。
func Middleware(store Store) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Load(r.Context(), r)
			if err != nil {
				slog.Error("failed to load session", slog.String("error", err.Error()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			cw := &committingWriter{
				ResponseWriter: w,
				ctx:            r.Context(),
				store:          store,
				session:        sess,
			}
			next.ServeHTTP(cw, r.WithContext(NewContext(r.Context(), sess)))
			if !cw.committed {
				cw.commit()
			}
		})
	}
}

// Commit はレスポンスを書く前にセッションを明示的に保存する。
// 保存の失敗をハンドラーで扱いたい場合に使用する。
// Middlewareを経由していないResponseWriterに対してはErrNoSessionを返す。
func Commit(w http.ResponseWriter) error {
	for {
		switch rw := w.(type) {
		case *committingWriter:
			return rw.commit()
		case interface{ Unwrap() http.ResponseWriter }:
			w = rw.Unwrap()
		default:
			return ErrNoSession
		}
	}
}

// committingWriter は最初の書き込みの直前にセッションを保存するResponseWriter。
type committingWriter struct {
	http.ResponseWriter
	ctx       context.Context
	store     Store
	session   *Session
	committed bool
	err       error
}

func (cw *committingWriter) commit() error {
	if cw.committed {
		return cw.err
	}
	cw.committed = true
	if err := cw.store.Save(cw.ctx, cw.ResponseWriter, cw.session); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		cw.err = err
	}
	return cw.err
}

// WriteHeader はセッションを保存してから委譲する。
func (cw *committingWriter) WriteHeader(code int) {
	cw.commit()
	cw.ResponseWriter.WriteHeader(code)
}

// Write はセッションを保存してから委譲する。
func (cw *committingWriter) Write(b []byte) (int, error) {
	cw.commit()
	return cw.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerのために元のResponseWriterを返す。
func (cw *committingWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
