package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/lab-scheduler/internal/admission"
	"github.com/example/lab-scheduler/internal/catalog"
	"github.com/example/lab-scheduler/internal/persistence"
)

// ServiceFactory assists tests with constructing services using deterministic
// identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("session"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("session")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// CoordinatorDeps captures dependencies for constructing a coordinator.
type CoordinatorDeps struct {
	Store          persistence.Store
	Catalog        catalog.Catalog
	Binder         catalog.HardwareBinder
	Observer       admission.Observer
	NotifyInterval time.Duration
	Logger         *slog.Logger
}

// NewCoordinator builds a coordinator using the supplied dependencies combined
// with the factory's clock and ids. A nil logger discards output.
func (f *ServiceFactory) NewCoordinator(deps CoordinatorDeps) *admission.Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = QuietLogger()
	}
	return admission.NewCoordinator(deps.Store, deps.Catalog, admission.Options{
		Binder:         deps.Binder,
		IDGenerator:    f.IDGenerator.NextFunc(),
		Now:            f.Clock.NowFunc(),
		NotifyInterval: deps.NotifyInterval,
		Observer:       deps.Observer,
		Logger:         logger,
	})
}
