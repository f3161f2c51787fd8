// Package firerepo implements the corral repository contract on Cloud
// Firestore collections. Writes run as atomic batches with per-batch
// all-or-nothing outcomes; reads use equality queries with the scope and
// soft-delete predicates appended; transactions are single-attempt.
//
// Firestore cannot cap a list while appending to it, so the bounded trace
// strategy is rejected at construction; latest and unbounded are supported.
package firerepo

import (
	"context"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

const (
	// maxBatchWrites caps one atomic WriteBatch. Firestore allows 500
	// writes per batch but server transforms count extra; 300 leaves room.
	maxBatchWrites = 300
	// maxInChunk caps identities per "in" membership predicate.
	maxInChunk = 10
)

// Repository is the Firestore-backed corral repository. Unbound instances are
// safe for concurrent use; instances bound to a transaction follow the
// transaction's read-before-write discipline.
type Repository struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	cfg    *corral.Config
	logger *zap.Logger
	tx     *firestore.Transaction
}

var _ corral.Repository = (*Repository)(nil)

// New builds a repository over coll. The client is retained for batch and
// transaction management; the repository never closes it.
func New(client *firestore.Client, coll *firestore.CollectionRef, opts corral.Options) (*Repository, error) {
	cfg, err := corral.ResolveConfig(opts, corral.Capabilities{SliceOnPush: false})
	if err != nil {
		return nil, err
	}
	return &Repository{
		client: client,
		coll:   coll,
		cfg:    cfg,
		logger: cfg.Logger.With(
			zap.String("backend", "firestore"),
			zap.String("collection", coll.Path),
		),
	}, nil
}

// Collection exposes the raw backend handle for operations the repository
// does not cover.
func (r *Repository) Collection() *firestore.CollectionRef { return r.coll }

// Config exposes the resolved repository configuration.
func (r *Repository) Config() *corral.Config { return r.cfg }

// WithTransaction returns a sibling repository that routes every backend call
// through tx. The transaction is borrowed: the caller owns its lifecycle.
func (r *Repository) WithTransaction(tx *firestore.Transaction) *Repository {
	clone := *r
	clone.tx = tx
	return &clone
}

// RunTransaction opens a single-attempt transaction, passes a bound sibling
// to fn, commits when fn returns nil, and rolls back otherwise. Firestore
// transactions require every read to precede the first write.
func (r *Repository) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx corral.Repository) error) error {
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, r.WithTransaction(tx))
	}, firestore.MaxAttempts(1))
}

// ApplyConstraints augments a raw query with the scope and soft-delete
// predicates, for ad-hoc queries and aggregations run on the raw collection.
func (r *Repository) ApplyConstraints(q firestore.Query) firestore.Query {
	for k, v := range r.cfg.Scope {
		q = q.Where(k, "==", v)
	}
	if r.cfg.SoftDelete {
		q = q.Where(r.cfg.SoftDeleteKey, "==", false)
	}
	return q
}

// BuildUpdateOperation returns the fully enriched field updates for a caller
// update, for use in ad-hoc batch writes.
func (r *Repository) BuildUpdateOperation(u corral.Update, opts ...corral.WriteOption) ([]firestore.Update, error) {
	if err := r.cfg.CheckWrite(u); err != nil {
		return nil, err
	}
	wo := corral.BuildWriteOptions(opts...)
	return translateUpdates(r.cfg.BuildWriteOp(corral.WriteUpdate, u, wo.MergeTrace)), nil
}

func (r *Repository) nativeID() string {
	return r.coll.NewDoc().ID
}

// chunkStrings splits ids into runs of at most size.
func chunkStrings(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
