package middleware

import (
	"net/http"
	"strings"
)

// apiContentSecurityPolicy はJSON/RSS/XLSXのみを返すAPI向けのCSP。
// レスポンスがブラウザで文書として解釈されても何も読み込ませない。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はAPIレスポンスにセキュリティヘッダーを付与するミドルウェアを返す。
//
// 認証トークンや参加者一覧を含むため既定では Cache-Control: no-store を付ける。
// キャッシュさせたいハンドラー（バナー画像配信など）は自身で上書きする。
// embedPrefixes に一致するパスはフロントエンドの別オリジンから <img> で
// 埋め込まれるため Cross-Origin-Resource-Policy を cross-origin にする。
func NewSecurityHeadersMiddleware(embedPrefixes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cache-Control", "no-store")

			corp := "same-origin"
			for _, p := range embedPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					corp = "cross-origin"
					break
				}
			}
			h.Set("Cross-Origin-Resource-Policy", corp)

			next.ServeHTTP(w, r)
		})
	}
}
