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
	invoicesCreated   metric.Int64Counter
	allocationRetries metric.Int64Counter
	verifications     metric.Int64Counter
	vaultFailures     metric.Int64Counter
	keyUnavailable    metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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
		name = "folio"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("folio_invoices_created_total")
	if err != nil {
		return nil, err
	}
	allocationRetries, err := meter.Int64Counter("folio_invoice_number_retries_total")
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("folio_verifications_total")
	if err != nil {
		return nil, err
	}
	vaultFailures, err := meter.Int64Counter("folio_vault_auth_failures_total")
	if err != nil {
		return nil, err
	}
	keyUnavailable, err := meter.Int64Counter("folio_signing_key_unavailable_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("folio_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:   invoicesCreated,
		allocationRetries: allocationRetries,
		verifications:     verifications,
		vaultFailures:     vaultFailures,
		keyUnavailable:    keyUnavailable,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordInvoiceCreated counts a committed invoice.
func (m *Metrics) RecordInvoiceCreated(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAllocationRetry counts a number allocation retried after a conflict.
func (m *Metrics) RecordAllocationRetry(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.allocationRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerification counts verification outcomes by entry point.
func (m *Metrics) RecordVerification(ctx context.Context, endpoint string, valid bool) {
	if m == nil {
		return
	}
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("outcome", outcome),
	)
	m.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVaultFailure counts decrypt attempts that failed authentication.
func (m *Metrics) RecordVaultFailure(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.vaultFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyUnavailable counts registry misses for a referenced key id.
func (m *Metrics) RecordKeyUnavailable(ctx context.Context, keyID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("key_id", strings.TrimSpace(keyID)))
	m.keyUnavailable.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"outcome":     {},
	"provider":    {},
	"key_id":      {},
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
