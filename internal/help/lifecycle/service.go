package lifecycle

import (
	"context"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/projection"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/models"
)

// Logger provides minimal logging required by the lifecycle service.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Service runs the write side of the workflow: request submission, offers,
// acceptance and assist progression. Reads go through the projection.
type Service struct {
	cfg      Config
	table    *taxonomy.Table
	resolver *duration.Resolver
	backend  gateway.Backend
	proj     *projection.Projection
	deriver  *projection.Deriver
	metrics  models.MetricService
	logger   Logger
	validate *validator.Validate
	guard    *inFlight
}

// NewService constructs a Service instance.
func NewService(cfg Config, table *taxonomy.Table, resolver *duration.Resolver, backend gateway.Backend,
	proj *projection.Projection, metrics models.MetricService, logger Logger) *Service {
	cfg = cfg.withDefaults()
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	limit := cfg.NoteLimit
	_ = v.RegisterValidation("note", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= limit
	})
	return &Service{
		cfg:      cfg,
		table:    table,
		resolver: resolver,
		backend:  backend,
		proj:     proj,
		deriver:  projection.NewDeriver(table),
		metrics:  metrics,
		logger:   logger,
		validate: v,
		guard:    newInFlight(),
	}
}

// Config returns copy of the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Table returns the taxonomy the service resolves against.
func (s *Service) Table() *taxonomy.Table {
	return s.table
}

func (s *Service) now() time.Time {
	return s.proj.Now()
}

// current is used for mutation timestamps and guards; now may lag by up to
// one clock refresh.
func (s *Service) current() time.Time {
	return s.proj.Current()
}

// check runs struct validation and converts the first failure into a
// PreconditionError.
func (s *Service) check(v interface{}, messages map[string]string) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg, ok := messages[fe.Field()]
	if !ok {
		msg = fe.Field() + " is invalid"
	}
	return precondition(fe.Field(), msg)
}

// run wraps a remote mutation with the in-flight guard, metrics and the
// post-call invalidation. invalidate runs whether or not the call succeeded.
func (s *Service) run(ctx context.Context, key, op string, metric models.MetricName, call func() error, invalidate ...string) error {
	release, err := s.guard.acquire(key)
	if err != nil {
		s.count(ctx, models.MetricInFlightRejected, op)
		return err
	}
	defer release()

	started := time.Now()
	err = call()
	if s.metrics != nil {
		_ = s.metrics.Distribution(ctx, models.MetricRemoteLatencyMS, op, int(time.Since(started)/time.Millisecond))
	}
	if len(invalidate) > 0 {
		s.proj.Invalidate(ctx, invalidate...)
	}
	if err != nil {
		s.count(ctx, models.MetricRemoteFailure, op)
		if s.logger != nil {
			s.logger.Errorf("%s failed: %v", op, err)
		}
		return err
	}
	s.count(ctx, metric, op)
	return nil
}

func (s *Service) rejected(ctx context.Context, op string, err error) error {
	if _, ok := AsPrecondition(err); ok {
		s.count(ctx, models.MetricPreconditionRejected, op)
	}
	return err
}

func (s *Service) count(ctx context.Context, name models.MetricName, op string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Count(ctx, name, op, 1); err != nil && s.logger != nil {
		s.logger.Errorf("metric %s: %v", name, err)
	}
}
