package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter         metric.Int64Counter
	RequestDuration        metric.Float64Histogram
	GenerateCalls          metric.Int64Counter
	TokensUsed             metric.Int64Counter
	RepairAttempts         metric.Int64Counter
	TransportRetries       metric.Int64Counter
	DocumentProcessingTime metric.Float64Histogram
	ChunkProcessingTime    metric.Float64Histogram
	CircuitBreakerState    metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("docintel-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	generateCalls, err := meter.Int64Counter(
		"gemini.generate.calls",
		metric.WithDescription("Total generative calls issued"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"gemini.tokens.used",
		metric.WithDescription("Total Gemini tokens used"),
	)
	if err != nil {
		return nil, err
	}

	repairAttempts, err := meter.Int64Counter(
		"pipeline.repair.attempts",
		metric.WithDescription("Total repair rounds spent on chunk responses"),
	)
	if err != nil {
		return nil, err
	}

	transportRetries, err := meter.Int64Counter(
		"pipeline.transport.retries",
		metric.WithDescription("Total transport-level retries of generative calls"),
	)
	if err != nil {
		return nil, err
	}

	documentProcessingTime, err := meter.Float64Histogram(
		"document.processing.duration",
		metric.WithDescription("Document processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunkProcessingTime, err := meter.Float64Histogram(
		"chunk.processing.duration",
		metric.WithDescription("Chunk processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:         requestCounter,
		RequestDuration:        requestDuration,
		GenerateCalls:          generateCalls,
		TokensUsed:             tokensUsed,
		RepairAttempts:         repairAttempts,
		TransportRetries:       transportRetries,
		DocumentProcessingTime: documentProcessingTime,
		ChunkProcessingTime:    chunkProcessingTime,
		CircuitBreakerState:    circuitBreakerState,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordGenerateCall records one generative call and its token usage
func (m *Metrics) RecordGenerateCall(tokens int64, model string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("gemini.model", model),
		attribute.Bool("gemini.success", success),
	}

	m.GenerateCalls.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(attrs...))
}

// RecordRepairAttempts records repair rounds spent on one chunk
func (m *Metrics) RecordRepairAttempts(count int64, outcome string) {
	attrs := []attribute.KeyValue{
		attribute.String("chunk.outcome", outcome),
	}

	m.RepairAttempts.Add(context.Background(), count, metric.WithAttributes(attrs...))
}

// RecordTransportRetries records transport retries spent on one chunk
func (m *Metrics) RecordTransportRetries(count int64) {
	m.TransportRetries.Add(context.Background(), count)
}

// RecordDocumentProcessing records document pipeline metrics
func (m *Metrics) RecordDocumentProcessing(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("document.status", status),
		attribute.String("service", "pipeline"),
	}

	m.DocumentProcessingTime.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordChunkProcessing records per-chunk processing metrics
func (m *Metrics) RecordChunkProcessing(duration float64, outcome string) {
	attrs := []attribute.KeyValue{
		attribute.String("chunk.outcome", outcome),
		attribute.String("service", "pipeline"),
	}

	m.ChunkProcessingTime.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
