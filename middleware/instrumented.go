package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

const tracerName = "github.com/corralkit/corral/middleware"

// Instrumented decorates a repository with per-operation logging, tracing,
// and metrics. The inner repository does the work; this layer only observes.
type Instrumented struct {
	inner   corral.Repository
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Collector
}

var _ corral.Repository = (*Instrumented)(nil)

// NewInstrumented wraps inner. logger may be nil for no logging and metrics
// may be nil for no metrics; spans always record through the global tracer
// provider, which is a no-op unless the application installed one.
func NewInstrumented(inner corral.Repository, logger *zap.Logger, metrics *Collector) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{
		inner:   inner,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		metrics: metrics,
	}
}

func (i *Instrumented) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "corral."+op,
		trace.WithAttributes(attribute.String("db.operation", op)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	i.metrics.observe(op, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		i.logger.Error("Repository operation failed",
			zap.String("operation", op),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return err
	}
	i.logger.Debug("Repository operation completed",
		zap.String("operation", op),
		zap.Duration("duration", elapsed),
	)
	return nil
}

func (i *Instrumented) GetByID(ctx context.Context, id string, opts ...corral.QueryOption) (corral.Document, error) {
	var doc corral.Document
	err := i.observe(ctx, "getById", func(ctx context.Context) error {
		var err error
		doc, err = i.inner.GetByID(ctx, id, opts...)
		return err
	})
	return doc, err
}

func (i *Instrumented) GetByIDs(ctx context.Context, ids []string, opts ...corral.QueryOption) ([]corral.Document, []string, error) {
	var docs []corral.Document
	var missing []string
	err := i.observe(ctx, "getByIds", func(ctx context.Context) error {
		var err error
		docs, missing, err = i.inner.GetByIDs(ctx, ids, opts...)
		return err
	})
	return docs, missing, err
}

func (i *Instrumented) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := i.observe(ctx, "exists", func(ctx context.Context) error {
		var err error
		ok, err = i.inner.Exists(ctx, id)
		return err
	})
	return ok, err
}

func (i *Instrumented) Create(ctx context.Context, entity corral.Document, opts ...corral.WriteOption) (string, error) {
	var id string
	err := i.observe(ctx, "create", func(ctx context.Context) error {
		var err error
		id, err = i.inner.Create(ctx, entity, opts...)
		return err
	})
	return id, err
}

func (i *Instrumented) CreateMany(ctx context.Context, entities []corral.Document, opts ...corral.WriteOption) ([]string, error) {
	var ids []string
	err := i.observe(ctx, "createMany", func(ctx context.Context) error {
		var err error
		ids, err = i.inner.CreateMany(ctx, entities, opts...)
		return err
	})
	return ids, err
}

func (i *Instrumented) Update(ctx context.Context, id string, u corral.Update, opts ...corral.WriteOption) error {
	return i.observe(ctx, "update", func(ctx context.Context) error {
		return i.inner.Update(ctx, id, u, opts...)
	})
}

func (i *Instrumented) UpdateMany(ctx context.Context, ids []string, u corral.Update, opts ...corral.WriteOption) error {
	return i.observe(ctx, "updateMany", func(ctx context.Context) error {
		return i.inner.UpdateMany(ctx, ids, u, opts...)
	})
}

func (i *Instrumented) Delete(ctx context.Context, id string, opts ...corral.WriteOption) error {
	return i.observe(ctx, "delete", func(ctx context.Context) error {
		return i.inner.Delete(ctx, id, opts...)
	})
}

func (i *Instrumented) DeleteMany(ctx context.Context, ids []string, opts ...corral.WriteOption) error {
	return i.observe(ctx, "deleteMany", func(ctx context.Context) error {
		return i.inner.DeleteMany(ctx, ids, opts...)
	})
}

func (i *Instrumented) Find(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	var stream *corral.Stream[corral.Document]
	err := i.observe(ctx, "find", func(ctx context.Context) error {
		var err error
		stream, err = i.inner.Find(ctx, f, opts...)
		return err
	})
	return stream, err
}

func (i *Instrumented) FindPage(ctx context.Context, f corral.Filter, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	var out *corral.Page
	err := i.observe(ctx, "findPage", func(ctx context.Context) error {
		var err error
		out, err = i.inner.FindPage(ctx, f, page, opts...)
		return err
	})
	return out, err
}

func (i *Instrumented) FindBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	var stream *corral.Stream[corral.Document]
	err := i.observe(ctx, "findBySpec", func(ctx context.Context) error {
		var err error
		stream, err = i.inner.FindBySpec(ctx, s, opts...)
		return err
	})
	return stream, err
}

func (i *Instrumented) FindPageBySpec(ctx context.Context, s corral.Specification, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	var out *corral.Page
	err := i.observe(ctx, "findPageBySpec", func(ctx context.Context) error {
		var err error
		out, err = i.inner.FindPageBySpec(ctx, s, page, opts...)
		return err
	})
	return out, err
}

func (i *Instrumented) Count(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (int64, error) {
	var n int64
	err := i.observe(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = i.inner.Count(ctx, f, opts...)
		return err
	})
	return n, err
}

func (i *Instrumented) CountBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (int64, error) {
	var n int64
	err := i.observe(ctx, "countBySpec", func(ctx context.Context) error {
		var err error
		n, err = i.inner.CountBySpec(ctx, s, opts...)
		return err
	})
	return n, err
}

// RunTransaction instruments the transaction as one operation and hands fn a
// sibling-decorated repository, so contained operations are observed too.
func (i *Instrumented) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx corral.Repository) error) error {
	return i.observe(ctx, "runTransaction", func(ctx context.Context) error {
		return i.inner.RunTransaction(ctx, func(ctx context.Context, tx corral.Repository) error {
			bound := &Instrumented{inner: tx, logger: i.logger, tracer: i.tracer, metrics: i.metrics}
			return fn(ctx, bound)
		})
	})
}
