package infra

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"keyset-lifecycle-service/config"
)

// TraceHandler はスパン情報をログレコードに付与するslogハンドラ。
// projectID が設定されていればCloud Logging向けのトレースキーも出力する。
type TraceHandler struct {
	next      slog.Handler
	projectID string
	enabled   bool
}

// NewTraceHandler は next をラップした TraceHandler を返す。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{next: next, projectID: cfg.GoogleCloudProject, enabled: cfg.OtelEnabled}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(h.spanAttrs(sc)...)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) spanAttrs(sc trace.SpanContext) []slog.Attr {
	traceID, spanID := sc.TraceID().String(), sc.SpanID().String()
	attrs := []slog.Attr{
		slog.String("trace", traceID),
		slog.String("spanId", spanID),
		slog.Bool("traceSampled", sc.IsSampled()),
	}
	if h.projectID == "" {
		return attrs
	}
	return append(attrs,
		slog.String("logging.googleapis.com/trace", "projects/"+h.projectID+"/traces/"+traceID),
		slog.String("logging.googleapis.com/spanId", spanID),
	)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{next: h.next.WithAttrs(attrs), projectID: h.projectID, enabled: h.enabled}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{next: h.next.WithGroup(name), projectID: h.projectID, enabled: h.enabled}
}

// ParseLogLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はINFO。
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// severity はslogのレベルキーをCloud Loggingの severity に読み替える。
func severity(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	name := "DEFAULT"
	switch {
	case level >= slog.LevelError:
		name = "ERROR"
	case level >= slog.LevelWarn:
		name = "WARNING"
	case level >= slog.LevelInfo:
		name = "INFO"
	case level >= slog.LevelDebug:
		name = "DEBUG"
	}
	return slog.String("severity", name)
}

// NewLogger はキーセット管理サービス用のJSONロガーを返す。
// 全レコードに service 属性が付く。
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLogLevel(cfg.LogLevel),
		ReplaceAttr: severity,
	})
	logger := slog.New(NewTraceHandler(jsonHandler, cfg))
	if cfg.OtelServiceName != "" {
		logger = logger.With("service", cfg.OtelServiceName)
	}
	return logger
}

// SetupLogger はグローバルロガーを設定する。
func SetupLogger(cfg *config.Config) {
	slog.SetDefault(NewLogger(os.Stdout, cfg))
}
