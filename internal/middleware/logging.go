// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation   string `json:"operation"`
	NamespaceID int64  `json:"namespace_id"`
	KeysetID    string `json:"keyset_id"`
	Result      string `json:"result"`
	Timestamp   string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
func WriteAuditLog(ctx context.Context, entry AuditLog) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	slog.InfoContext(ctx, "keyset operation completed",
		"audit", true,
		"operation", entry.Operation,
		"namespace_id", entry.NamespaceID,
		"keyset_id", entry.KeysetID,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}

// RequestLogger はリクエストごとにメソッド・パス・ステータス・所要時間をログに出す。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
