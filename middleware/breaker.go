package middleware

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

// BreakerConfig tunes the circuit breaker. Zero values fall back to the
// defaults noted per field.
type BreakerConfig struct {
	// Name labels the breaker in state-change logs. Defaults to "corral".
	Name string
	// MaxRequests allowed through while half-open. Defaults to 1.
	MaxRequests uint32
	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration
	// Timeout before a tripped breaker probes again. Defaults to 60s.
	Timeout time.Duration
	// ReadyToTrip decides when the breaker opens. Defaults to five
	// consecutive failures.
	ReadyToTrip func(counts gobreaker.Counts) bool
	// Logger receives state-change events. Defaults to no logging.
	Logger *zap.Logger
}

// Breaker decorates a repository with a circuit breaker. Backend failures
// count against the breaker; local contract violations (readonly writes,
// scope breaches, invalid cursors, conflicts, partial failures, consumed
// streams) say nothing about backend health and pass through as successes.
type Breaker struct {
	inner corral.Repository
	cb    *gobreaker.CircuitBreaker
}

var _ corral.Repository = (*Breaker)(nil)

// NewBreaker wraps inner behind one shared breaker for every operation.
func NewBreaker(inner corral.Repository, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "corral"
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		ReadyToTrip:  cfg.ReadyToTrip,
		IsSuccessful: isBackendHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Repository circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

// isBackendHealthy classifies an operation outcome for the breaker. Only
// errors that indicate the backend misbehaving should open the circuit.
func isBackendHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case corral.IsConfig(err),
		corral.IsReadonlyViolation(err),
		corral.IsSetUnsetOverlap(err),
		corral.IsScopeBreach(err),
		corral.IsInvalidCursor(err),
		corral.IsConflict(err),
		corral.IsPartialFailure(err),
		corral.IsStreamConsumed(err):
		return true
	default:
		return false
	}
}

func (b *Breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

func (b *Breaker) GetByID(ctx context.Context, id string, opts ...corral.QueryOption) (corral.Document, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.GetByID(ctx, id, opts...)
	})
	if err != nil {
		return nil, err
	}
	return v.(corral.Document), nil
}

func (b *Breaker) GetByIDs(ctx context.Context, ids []string, opts ...corral.QueryOption) ([]corral.Document, []string, error) {
	var docs []corral.Document
	var missing []string
	_, err := b.execute(func() (interface{}, error) {
		var err error
		docs, missing, err = b.inner.GetByIDs(ctx, ids, opts...)
		return nil, err
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, missing, nil
}

func (b *Breaker) Exists(ctx context.Context, id string) (bool, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.Exists(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (b *Breaker) Create(ctx context.Context, entity corral.Document, opts ...corral.WriteOption) (string, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.Create(ctx, entity, opts...)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Breaker) CreateMany(ctx context.Context, entities []corral.Document, opts ...corral.WriteOption) ([]string, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.CreateMany(ctx, entities, opts...)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := v.([]string)
	return ids, nil
}

func (b *Breaker) Update(ctx context.Context, id string, u corral.Update, opts ...corral.WriteOption) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Update(ctx, id, u, opts...)
	})
	return err
}

func (b *Breaker) UpdateMany(ctx context.Context, ids []string, u corral.Update, opts ...corral.WriteOption) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.UpdateMany(ctx, ids, u, opts...)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, id string, opts ...corral.WriteOption) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Delete(ctx, id, opts...)
	})
	return err
}

func (b *Breaker) DeleteMany(ctx context.Context, ids []string, opts ...corral.WriteOption) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.DeleteMany(ctx, ids, opts...)
	})
	return err
}

func (b *Breaker) Find(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.Find(ctx, f, opts...)
	})
	if err != nil {
		return nil, err
	}
	return v.(*corral.Stream[corral.Document]), nil
}

func (b *Breaker) FindPage(ctx context.Context, f corral.Filter, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.FindPage(ctx, f, page, opts...)
	})
	if err != nil {
		return nil, err
	}
	return v.(*corral.Page), nil
}

func (b *Breaker) FindBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.FindBySpec(ctx, s, opts...)
	})
	if err != nil {
		return nil, err
	}
	return v.(*corral.Stream[corral.Document]), nil
}

func (b *Breaker) FindPageBySpec(ctx context.Context, s corral.Specification, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.FindPageBySpec(ctx, s, page, opts...)
	})
	if err != nil {
		return nil, err
	}
	return v.(*corral.Page), nil
}

func (b *Breaker) Count(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (int64, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.Count(ctx, f, opts...)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *Breaker) CountBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (int64, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.CountBySpec(ctx, s, opts...)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// RunTransaction counts as one request against the breaker; fn receives the
// backend's own bound repository, undecorated.
func (b *Breaker) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx corral.Repository) error) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.RunTransaction(ctx, fn)
	})
	return err
}
