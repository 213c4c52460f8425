package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerOps           metric.Int64Counter
	insufficientFunds   metric.Int64Counter
	reservationEvents   metric.Int64Counter
	reservationsExpired metric.Int64Counter
	conflictRetries     metric.Int64Counter
	rateLimitAllowed    metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditos"
	}
	meter := provider.Meter(name)

	ledgerOps, err := meter.Int64Counter("creditos_ledger_ops_total")
	if err != nil {
		return nil, err
	}
	insufficientFunds, err := meter.Int64Counter("creditos_insufficient_funds_total")
	if err != nil {
		return nil, err
	}
	reservationEvents, err := meter.Int64Counter("creditos_reservation_events_total")
	if err != nil {
		return nil, err
	}
	reservationsExpired, err := meter.Int64Counter("creditos_reservations_expired_total")
	if err != nil {
		return nil, err
	}
	conflictRetries, err := meter.Int64Counter("creditos_conflict_retries_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("creditos_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("creditos_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerOps:           ledgerOps,
		insufficientFunds:   insufficientFunds,
		reservationEvents:   reservationEvents,
		reservationsExpired: reservationsExpired,
		conflictRetries:     conflictRetries,
		rateLimitAllowed:    rateLimitAllowed,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordLedgerOp counts a committed ledger operation by kind.
func (m *Metrics) RecordLedgerOp(ctx context.Context, op, kind, toolID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("tool_id", strings.TrimSpace(toolID)),
	)
	m.ledgerOps.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInsufficientFunds counts rejected debits.
func (m *Metrics) RecordInsufficientFunds(ctx context.Context, toolID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tool_id", strings.TrimSpace(toolID)))
	m.insufficientFunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReservationEvent counts reservation lifecycle transitions.
func (m *Metrics) RecordReservationEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event", strings.TrimSpace(event)))
	m.reservationEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReservationsExpired counts holds released by the sweep.
func (m *Metrics) RecordReservationsExpired(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reservationsExpired.Add(ctx, n)
}

// RecordConflictRetry counts optimistic-concurrency retries.
func (m *Metrics) RecordConflictRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("op", strings.TrimSpace(op)))
	m.conflictRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// user_id is deliberately absent: unbounded cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"op":          {},
	"kind":        {},
	"tool_id":     {},
	"event":       {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
