package keystore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ラッピング鍵の呼び出し（KMS）を含むため、鍵素材の操作ごとにスパンを切る。
var tracer = otel.Tracer("keyset-lifecycle-service/internal/keystore")

func startSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "keystore."+op,
		trace.WithAttributes(attribute.String("keyset.name", name)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
