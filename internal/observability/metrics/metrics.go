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
	usageRecorded         metric.Int64Counter
	triggersFired         metric.Int64Counter
	complianceEvaluations metric.Int64Counter
	workOrdersOpened      metric.Int64Counter
	workOrdersReleased    metric.Int64Counter
	reservationShortfalls metric.Int64Counter
	integrityAlarms       metric.Int64Counter
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

	return provider, nil
}

// New configures the engine metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "mxengine"
	}
	meter := provider.Meter(name)

	usageRecorded, err := meter.Int64Counter("mxengine_usage_events_total")
	if err != nil {
		return nil, err
	}
	triggersFired, err := meter.Int64Counter("mxengine_triggers_fired_total")
	if err != nil {
		return nil, err
	}
	complianceEvaluations, err := meter.Int64Counter("mxengine_compliance_evaluations_total")
	if err != nil {
		return nil, err
	}
	workOrdersOpened, err := meter.Int64Counter("mxengine_work_orders_opened_total")
	if err != nil {
		return nil, err
	}
	workOrdersReleased, err := meter.Int64Counter("mxengine_work_orders_released_total")
	if err != nil {
		return nil, err
	}
	reservationShortfalls, err := meter.Int64Counter("mxengine_reservation_shortfalls_total")
	if err != nil {
		return nil, err
	}
	integrityAlarms, err := meter.Int64Counter("mxengine_integrity_alarms_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageRecorded:         usageRecorded,
		triggersFired:         triggersFired,
		complianceEvaluations: complianceEvaluations,
		workOrdersOpened:      workOrdersOpened,
		workOrdersReleased:    workOrdersReleased,
		reservationShortfalls: reservationShortfalls,
		integrityAlarms:       integrityAlarms,
	}, nil
}

// RecordUsageEvent increments usage ledger append counts.
func (m *Metrics) RecordUsageEvent(ctx context.Context, subjectKind string) {
	if m == nil {
		return
	}
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject_kind", strings.TrimSpace(subjectKind)),
	))
}

// RecordTriggerFired increments trigger fire counts.
func (m *Metrics) RecordTriggerFired(ctx context.Context, metricKind string) {
	if m == nil {
		return
	}
	m.triggersFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric", strings.TrimSpace(metricKind)),
	))
}

// RecordEvaluation increments compliance evaluation counts.
func (m *Metrics) RecordEvaluation(ctx context.Context) {
	if m == nil {
		return
	}
	m.complianceEvaluations.Add(ctx, 1)
}

// RecordWorkOrderOpened increments work order open counts.
func (m *Metrics) RecordWorkOrderOpened(ctx context.Context, orderType string) {
	if m == nil {
		return
	}
	m.workOrdersOpened.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", strings.TrimSpace(orderType)),
	))
}

// RecordWorkOrderReleased increments release counts.
func (m *Metrics) RecordWorkOrderReleased(ctx context.Context) {
	if m == nil {
		return
	}
	m.workOrdersReleased.Add(ctx, 1)
}

// RecordReservationShortfall increments partial-reservation counts.
func (m *Metrics) RecordReservationShortfall(ctx context.Context, partNumber string) {
	if m == nil {
		return
	}
	m.reservationShortfalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("part_number", strings.TrimSpace(partNumber)),
	))
}

// RecordIntegrityAlarm increments ledger fold mismatch counts.
func (m *Metrics) RecordIntegrityAlarm(ctx context.Context, partNumber string) {
	if m == nil {
		return
	}
	m.integrityAlarms.Add(ctx, 1, metric.WithAttributes(
		attribute.String("part_number", strings.TrimSpace(partNumber)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics protocol %q", protocol)
	}
}
