// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// ownerContextKey はリクエストコンテキストにオーナーのメールアドレスを格納するためのキー。
var ownerContextKey = contextKey("owner_email")

// NewOwnerMiddleware は上流の認証プロキシが付与するヘッダーから
// 認証済みオーナーのメールアドレスを読み取り、リクエストコンテキストに
// 注入するミドルウェアを返す。ヘッダーのないリクエストには401を返す。
//
// ユーザー認証・セッション管理はこのシステムの範囲外で、
// ヘッダーの内容を信頼できるデプロイ構成を前提とする。
func NewOwnerMiddleware(headerName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(headerName))
			if owner == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerContextKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext はリクエストコンテキストからオーナーのメールアドレスを取得する。
// オーナーミドルウェアを通過したリクエストでのみ有効。
func OwnerFromContext(ctx context.Context) (string, error) {
	owner, ok := ctx.Value(ownerContextKey).(string)
	if !ok || owner == "" {
		return "", fmt.Errorf("owner not found in context")
	}
	return owner, nil
}

// ContextWithOwner はコンテキストにオーナーのメールアドレスを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithOwner(ctx context.Context, ownerEmail string) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerEmail)
}
