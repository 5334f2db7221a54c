// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/regwatch/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerContextKey はリクエストコンテキストに呼び出し元IDを格納するためのキー。
var callerContextKey = contextKey("caller")

// NewAdminTokenMiddleware は Authorization: Bearer <token> を検証するミドルウェアを返す。
// 検証に成功した場合は呼び出し元（接続元IP）をリクエストコンテキストに注入する。
// tokenが空の場合は運用APIを無効とし、すべてのリクエストに401を返す。
func NewAdminTokenMiddleware(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithCaller(r.Context(), clientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// clientIP はRemoteAddrからホスト部分を返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CallerFromContext はリクエストコンテキストから呼び出し元IDを取得する。
// 管理トークンミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (string, error) {
	caller, ok := ctx.Value(callerContextKey).(string)
	if !ok || caller == "" {
		return "", fmt.Errorf("caller not found in context")
	}
	return caller, nil
}

// ContextWithCaller はコンテキストに呼び出し元IDを注入する。
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}
