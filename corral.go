// Package corral is a scoped repository layer over document stores. It
// exposes one CRUD-plus-query contract for entities addressed by a string
// identity and takes care of the metadata business code always reimplements:
// identity generation, tenant scoping, soft deletion, create/update/delete
// timestamps, monotonic version counters, and per-write trace attribution.
//
// Backend adapters live in sibling packages: mongorepo targets MongoDB
// collections, firerepo targets Firestore collections. Both implement the
// Repository interface defined here; the middleware package adds optional
// logging, tracing, metrics, and circuit-breaking decorators around any
// implementation.
//
// A repository is parameterized entirely by an immutable Options value
// resolved at construction. Instances hold no mutable state afterwards and
// are safe for concurrent use; instances bound to a session or transaction
// borrow the handle and are only as concurrent as the handle allows.
package corral

import "context"

// Repository is the operation surface every backend adapter implements.
//
// All methods honor the repository scope and, when enabled, soft deletion:
// reads never return documents outside the scope or marked deleted, creates
// stamp the scope, and writes may not touch managed or scope attributes.
// Update and delete on absent identities succeed with no effect.
type Repository interface {
	// GetByID returns the document with the given identity, or (nil, nil)
	// when no visible document has it.
	GetByID(ctx context.Context, id string, opts ...QueryOption) (Document, error)
	// GetByIDs partitions ids into found documents and missing identities.
	// The order of found is unspecified; missing preserves input order.
	GetByIDs(ctx context.Context, ids []string, opts ...QueryOption) ([]Document, []string, error)
	// Exists reports whether a visible document has the given identity.
	Exists(ctx context.Context, id string) (bool, error)

	// Create stores a new entity and returns its identity. An identity
	// supplied under the id key is honored; otherwise one is generated.
	Create(ctx context.Context, entity Document, opts ...WriteOption) (string, error)
	// CreateMany stores entities in input order and returns their identities.
	// On partial success it returns ErrPartialFailure carrying the inserted
	// and failed identity sets.
	CreateMany(ctx context.Context, entities []Document, opts ...WriteOption) ([]string, error)
	// Update applies set/unset assignments to one document.
	Update(ctx context.Context, id string, u Update, opts ...WriteOption) error
	// UpdateMany applies the same update to every listed identity.
	UpdateMany(ctx context.Context, ids []string, u Update, opts ...WriteOption) error
	// Delete removes one document, or marks it deleted under soft deletion.
	Delete(ctx context.Context, id string, opts ...WriteOption) error
	// DeleteMany removes every listed identity.
	DeleteMany(ctx context.Context, ids []string, opts ...WriteOption) error

	// Find returns a lazy stream of matching documents, ordered by backend
	// identity ascending unless WithSort says otherwise.
	Find(ctx context.Context, f Filter, opts ...QueryOption) (*Stream[Document], error)
	// FindPage returns one page of matching documents under a stable
	// ordering, with a resumption cursor.
	FindPage(ctx context.Context, f Filter, page PageRequest, opts ...QueryOption) (*Page, error)
	// Count returns the number of matching documents.
	Count(ctx context.Context, f Filter, opts ...QueryOption) (int64, error)

	// FindBySpec, FindPageBySpec, and CountBySpec are the specification
	// flavors of Find, FindPage, and Count.
	FindBySpec(ctx context.Context, s Specification, opts ...QueryOption) (*Stream[Document], error)
	FindPageBySpec(ctx context.Context, s Specification, page PageRequest, opts ...QueryOption) (*Page, error)
	CountBySpec(ctx context.Context, s Specification, opts ...QueryOption) (int64, error)

	// RunTransaction opens a backend transaction, passes a sibling repository
	// bound to it to fn, commits when fn returns nil, and rolls back when fn
	// returns an error.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// QueryOption customizes a single read.
type QueryOption func(*QueryOptions)

// QueryOptions is the resolved form of a read's options. Adapters obtain it
// through BuildQueryOptions.
type QueryOptions struct {
	Projection   []string
	Sort         []Order
	Limit        int
	FailOnBreach bool
}

// BuildQueryOptions folds functional options into their resolved form.
func BuildQueryOptions(opts ...QueryOption) QueryOptions {
	var qo QueryOptions
	for _, o := range opts {
		o(&qo)
	}
	return qo
}

// WithProjection keeps only the named attributes on returned documents. The
// id attribute is included only when named.
func WithProjection(fields ...string) QueryOption {
	return func(qo *QueryOptions) {
		qo.Projection = append(qo.Projection, fields...)
	}
}

// WithSort appends one ordering key; call it repeatedly for multi-key
// orderings. The backend identity is always the final tiebreaker.
func WithSort(field string, desc bool) QueryOption {
	return func(qo *QueryOptions) {
		qo.Sort = append(qo.Sort, Order{Field: field, Desc: desc})
	}
}

// WithLimit caps the number of documents a Find produces, server-side.
func WithLimit(n int) QueryOption {
	return func(qo *QueryOptions) {
		qo.Limit = n
	}
}

// FailOnScopeBreach makes reads whose filter contradicts the scope fail with
// ErrScopeBreach instead of answering empty.
func FailOnScopeBreach() QueryOption {
	return func(qo *QueryOptions) {
		qo.FailOnBreach = true
	}
}

// WriteOption customizes a single write.
type WriteOption func(*WriteOptions)

// WriteOptions is the resolved form of a write's options.
type WriteOptions struct {
	MergeTrace Trace
}

// BuildWriteOptions folds functional options into their resolved form.
func BuildWriteOptions(opts ...WriteOption) WriteOptions {
	var wo WriteOptions
	for _, o := range opts {
		o(&wo)
	}
	return wo
}

// WithTrace merges per-call context into the write's trace record. It enables
// tracing for the call even when the repository was constructed without a
// trace context.
func WithTrace(t Trace) WriteOption {
	return func(wo *WriteOptions) {
		wo.MergeTrace = mergeTrace(wo.MergeTrace, t)
	}
}
