// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mentorlink/internal/model"
)

const (
	sessionCookieName = "session_id"

	// streamTokenParam はライブ接続でストリームトークンを渡すクエリパラメータ名。
	streamTokenParam = "token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// Authenticator はリクエストの認証情報からユーザーIDを解決するインターフェース。
// auth.Serviceが実装する。
type Authenticator interface {
	ResolveSession(ctx context.Context, sessionID string) (string, error)
	ResolveStreamToken(token string) (string, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return newAuthMiddleware(authenticator, false)
}

// NewStreamAuthMiddleware はライブ接続用の認証ミドルウェアを返す。
// セッションCookieに加え、?token= のストリームトークンを受け付ける。
func NewStreamAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return newAuthMiddleware(authenticator, true)
}

func newAuthMiddleware(authenticator Authenticator, allowToken bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolveUser(r, authenticator, allowToken)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			recordUserID(r.Context(), userID)
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveUser はセッションCookieを優先し、許可されている場合のみストリームトークンを参照する。
func resolveUser(r *http.Request, authenticator Authenticator, allowToken bool) (string, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return authenticator.ResolveSession(r.Context(), cookie.Value)
	}
	if allowToken {
		if token := r.URL.Query().Get(streamTokenParam); token != "" {
			return authenticator.ResolveStreamToken(token)
		}
	}
	return "", model.NewUnauthorizedError()
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeTransientStoreFailure {
		slog.Error("セッションの検証に失敗しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
		return
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
