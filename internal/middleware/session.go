// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gamefinder/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// SignInPath は未サインインの訪問者をリダイレクトする先。
const SignInPath = "/signin"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey = contextKey("session")
	tokenContextKey   = contextKey("session_token")
)

// SessionResolver はトークンから有効なセッションを引く。session.Managerが実装する。
type SessionResolver interface {
	Current(ctx context.Context, token string) (*model.Session, error)
}

// RoleResolver はセッションからロールを判定する。authz.Resolverが実装する。
type RoleResolver interface {
	Resolve(session *model.Session) model.Role
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効なセッションとトークンをリクエストコンテキストに注入するミドルウェアを返す。
// セッションが無い・無効な場合も拒否せず、未サインインとして次に渡す。
// 拒否はRequireSignedIn・RequireAdminが行う。
func NewSessionMiddleware(resolver SessionResolver, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := resolver.Current(r.Context(), cookie.Value)
			if err != nil {
				// セッションストアの障害は未サインインとして扱う
				logger.Warn("failed to resolve session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), cookie.Value, session)))
		})
	}
}

// RequireSignedIn はセッションの無いリクエストに401を返すミドルウェアを返す。
// JSON APIの認証系エンドポイントで使用する。
func RequireSignedIn() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SessionFromContext(r.Context()) == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin は管理者専用ルートのミドルウェアを返す。
// 未サインインはサインイン画面へ303でリダイレクトし、管理者以外は403を返す。
func RequireAdmin(roles RoleResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch roles.Resolve(SessionFromContext(r.Context())) {
			case model.RoleAdmin:
				next.ServeHTTP(w, r)
			case model.RoleAnonymous:
				http.Redirect(w, r, SignInPath, http.StatusSeeOther)
			default:
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			}
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// 未サインインの場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// TokenFromContext はリクエストコンテキストからセッショントークンを取得する。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// UserIDFromContext はサインイン中のユーザーIDを返す。未サインインの場合は空文字列。
func UserIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.UserID
	}
	return ""
}

// ContextWithSession はコンテキストにセッションとトークンを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, token string, s *model.Session) context.Context {
	ctx = context.WithValue(ctx, tokenContextKey, token)
	return context.WithValue(ctx, sessionContextKey, s)
}

// RoleOf はリクエストコンテキストのセッションからロールを返す。
func RoleOf(ctx context.Context, roles RoleResolver) model.Role {
	return roles.Resolve(SessionFromContext(ctx))
}
