package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"neighborly/internal/models"
)

// OtelMetricService implements models.MetricService on an OpenTelemetry
// meter. Instruments are created lazily and cached by name.
type OtelMetricService struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu         sync.Mutex
	counters   map[models.MetricName]metric.Int64Counter
	histograms map[models.MetricName]metric.Int64Histogram
}

// NewStdoutMetricService exports to stdout every interval.
func NewStdoutMetricService(interval time.Duration) (*OtelMetricService, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: stdout exporter: %w", err)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return NewWithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))), nil
}

// NewWithReader builds the service on any SDK reader.
func NewWithReader(reader sdkmetric.Reader) *OtelMetricService {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &OtelMetricService{
		provider:   provider,
		meter:      provider.Meter(models.MetricsCallerName),
		counters:   make(map[models.MetricName]metric.Int64Counter),
		histograms: make(map[models.MetricName]metric.Int64Histogram),
	}
}

func (s *OtelMetricService) Count(ctx context.Context, name models.MetricName, op string, val int) error {
	c, err := s.counter(name)
	if err != nil {
		return err
	}
	c.Add(ctx, int64(val), metric.WithAttributes(attribute.String("op", op)))
	return nil
}

func (s *OtelMetricService) Distribution(ctx context.Context, name models.MetricName, op string, val int) error {
	h, err := s.histogram(name)
	if err != nil {
		return err
	}
	h.Record(ctx, int64(val), metric.WithAttributes(attribute.String("op", op)))
	return nil
}

func (s *OtelMetricService) Shutdown(ctx context.Context) {
	_ = s.provider.Shutdown(ctx)
}

func (s *OtelMetricService) counter(name models.MetricName) (metric.Int64Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c, nil
	}
	c, err := s.meter.Int64Counter(string(name))
	if err != nil {
		return nil, err
	}
	s.counters[name] = c
	return c, nil
}

func (s *OtelMetricService) histogram(name models.MetricName) (metric.Int64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	h, err := s.meter.Int64Histogram(string(name), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	s.histograms[name] = h
	return h, nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, models.MetricName, string, int) error        { return nil }
func (Nop) Distribution(context.Context, models.MetricName, string, int) error { return nil }
func (Nop) Shutdown(context.Context)                                           {}

var (
	_ models.MetricService = (*OtelMetricService)(nil)
	_ models.MetricService = Nop{}
)
