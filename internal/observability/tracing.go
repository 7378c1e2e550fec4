package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts every runnersmap span. InitTracing replaces it.
var Tracer trace.Tracer = otel.Tracer("runnersmap")

// Span attribute keys shared by handlers, services and jobs.
const (
	AttrPostID       = attribute.Key("runnersmap.post.id")
	AttrUserID       = attribute.Key("runnersmap.user.id")
	AttrRankYear     = attribute.Key("runnersmap.rank.year")
	AttrRankMonth    = attribute.Key("runnersmap.rank.month")
	AttrRankedUsers  = attribute.Key("runnersmap.rank.users")
	AttrSearchLat    = attribute.Key("runnersmap.search.lat")
	AttrSearchLng    = attribute.Key("runnersmap.search.lng")
	AttrSearchResult = attribute.Key("runnersmap.search.results")
	AttrRankTimezone = attribute.Key("runnersmap.rank.timezone")
)

// TracingConfig selects the exporter and describes the process.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	RankTimezone   string
	Enabled        bool
	Exporter       string // stdout | otlp
	OTLPEndpoint   string
	SamplerRatio   float64
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == "otlp" {
		return otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func newSampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitTracing installs the global tracer provider and W3C propagators.
// Disabled tracing keeps the no-op provider. The returned function flushes
// pending spans.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		Tracer = otel.Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter %q: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			AttrRankTimezone.String(cfg.RankTimezone),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplerRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tp.Tracer(cfg.ServiceName)
	return tp.Shutdown, nil
}

// Span is a started span. A nil or zero Span is safe to use.
type Span struct {
	span trace.Span
}

// NewSpan starts a child span of whatever ctx carries.
func NewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (*Span, context.Context) {
	ctx, span := Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return &Span{span: span}, ctx
}

// StartSessionSpan starts the span of one participation transition.
func StartSessionSpan(ctx context.Context, op string, postID, userID uint) (*Span, context.Context) {
	return NewSpan(ctx, "session."+op,
		AttrPostID.Int64(int64(postID)),
		AttrUserID.Int64(int64(userID)),
	)
}

// StartRankSpan starts the span of one month rebuild.
func StartRankSpan(ctx context.Context, year, month int) (*Span, context.Context) {
	return NewSpan(ctx, "rank.aggregate", AttrRankYear.Int(year), AttrRankMonth.Int(month))
}

// StartSearchSpan starts the span of one map search around lat/lng.
func StartSearchSpan(ctx context.Context, lat, lng float64) (*Span, context.Context) {
	return NewSpan(ctx, "post.search", AttrSearchLat.Float64(lat), AttrSearchLng.Float64(lng))
}

// AddAttributes sets attributes on the span.
func (s *Span) AddAttributes(attrs ...attribute.KeyValue) {
	if s != nil && s.span != nil {
		s.span.SetAttributes(attrs...)
	}
}

// SetError records err and marks the span failed. A nil err is ignored.
func (s *Span) SetError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span.
func (s *Span) End() {
	if s != nil && s.span != nil {
		s.span.End()
	}
}
