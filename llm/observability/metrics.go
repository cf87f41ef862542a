package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/groundwork/llm"
)

const instrumentationName = "github.com/BaSui01/groundwork/llm"

// Recorder 额外的指标汇报方（prometheus Collector）
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Metrics 基于 OpenTelemetry Meter 的补全指标
type Metrics struct {
	tracer trace.Tracer

	requestTotal    metric.Int64Counter
	tokenTotal      metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// Option 配置 Metrics
type Option func(*options)

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider 覆盖全局 MeterProvider（测试用）
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider 覆盖全局 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// NewMetrics 创建指标；未指定 Provider 时取全局
func NewMetrics(opts ...Option) (*Metrics, error) {
	o := options{meterProvider: otel.GetMeterProvider(), tracerProvider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	meter := o.meterProvider.Meter(instrumentationName)
	m := &Metrics{tracer: o.tracerProvider.Tracer(instrumentationName)}

	var err, e error
	m.requestTotal, e = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	err = errors.Join(err, e)

	m.tokenTotal, e = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	err = errors.Join(err, e)

	m.errorTotal, e = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of failed LLM requests"),
		metric.WithUnit("{error}"))
	err = errors.Join(err, e)

	m.requestDuration, e = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	err = errors.Join(err, e)

	m.activeRequests, e = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"))
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return m, nil
}

// =============================================================================
// 📊 带观测的 Provider
// =============================================================================

// InstrumentedProvider 包装 llm.Provider，为 Completion 记录 span 与指标
type InstrumentedProvider struct {
	llm.Provider
	metrics  *Metrics
	recorder Recorder
}

// Instrument 包装 provider；recorder 可为 nil
func Instrument(p llm.Provider, m *Metrics, recorder Recorder) *InstrumentedProvider {
	return &InstrumentedProvider{Provider: p, metrics: m, recorder: recorder}
}

// Completion 记录耗时、token 用量与错误码
func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	name, model := p.Name(), req.Model
	base := metric.WithAttributes(attribute.String("provider", name), attribute.String("model", model))

	ctx, span := p.metrics.tracer.Start(ctx, "llm.completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", name),
			attribute.String("llm.model", model),
			attribute.Int("llm.messages", len(req.Messages)),
		))
	defer span.End()

	p.metrics.activeRequests.Add(ctx, 1, base)
	start := time.Now()
	resp, err := p.Provider.Completion(ctx, req)
	duration := time.Since(start)
	p.metrics.activeRequests.Add(ctx, -1, base)

	status := "success"
	var usage llm.ChatUsage
	if err != nil {
		status = "error"
		code := "unknown"
		var le *llm.Error
		if errors.As(err, &le) {
			code = string(le.Code)
		}
		p.metrics.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", name),
			attribute.String("model", model),
			attribute.String("error_code", code)))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	} else if resp != nil {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", name),
		attribute.String("model", model),
		attribute.String("status", status))
	p.metrics.requestTotal.Add(ctx, 1, attrs)
	p.metrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
	if usage.PromptTokens > 0 {
		p.metrics.tokenTotal.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
			attribute.String("provider", name), attribute.String("model", model), attribute.String("type", "prompt")))
	}
	if usage.CompletionTokens > 0 {
		p.metrics.tokenTotal.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
			attribute.String("provider", name), attribute.String("model", model), attribute.String("type", "completion")))
	}
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
	)

	if p.recorder != nil {
		p.recorder.RecordLLMRequest(name, model, status, duration, usage.PromptTokens, usage.CompletionTokens)
	}
	return resp, err
}
