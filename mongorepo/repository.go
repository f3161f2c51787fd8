// Package mongorepo implements the corral repository contract on MongoDB
// collections via the official driver. Creates run as ordered bulk upserts so
// partial failures report per-entity outcomes; updates and deletes use
// server-side update operators; multi-id operations chunk membership
// predicates transparently.
package mongorepo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

const (
	// maxBatchWrites caps one bulk write dispatch.
	maxBatchWrites = 1000
	// maxInChunk caps identities per $in membership predicate.
	maxInChunk = 100
)

// Repository is the MongoDB-backed corral repository. Unbound instances are
// safe for concurrent use; instances bound to a session are only as
// concurrent as the session allows.
type Repository struct {
	coll    *mongo.Collection
	client  *mongo.Client
	cfg     *corral.Config
	logger  *zap.Logger
	session mongo.Session
}

var _ corral.Repository = (*Repository)(nil)

// New builds a repository over coll. The collection's client is retained for
// session and transaction management; the repository never closes it.
func New(coll *mongo.Collection, opts corral.Options) (*Repository, error) {
	cfg, err := corral.ResolveConfig(opts, corral.Capabilities{SliceOnPush: true})
	if err != nil {
		return nil, err
	}
	return &Repository{
		coll:   coll,
		client: coll.Database().Client(),
		cfg:    cfg,
		logger: cfg.Logger.With(
			zap.String("backend", "mongodb"),
			zap.String("collection", coll.Name()),
		),
	}, nil
}

// Collection exposes the raw backend handle for operations the repository
// does not cover.
func (r *Repository) Collection() *mongo.Collection { return r.coll }

// Config exposes the resolved repository configuration.
func (r *Repository) Config() *corral.Config { return r.cfg }

// WithSession returns a sibling repository that threads sess through every
// backend call. The session is borrowed: the caller owns its lifecycle.
func (r *Repository) WithSession(sess mongo.Session) *Repository {
	clone := *r
	clone.session = sess
	return &clone
}

// RunTransaction opens a session transaction, passes a bound sibling to fn,
// commits when fn returns nil, and aborts otherwise. fn's error is returned
// unwrapped so callers can match their own failures.
func (r *Repository) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx corral.Repository) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return corral.NewBackendError("runTransaction", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx, r.WithSession(sess))
	})
	return err
}

// ApplyConstraints augments a raw filter with the scope and soft-delete
// predicates, for ad-hoc queries and aggregations run on the raw collection.
func (r *Repository) ApplyConstraints(filter bson.M) bson.M {
	out := make(bson.M, len(filter)+len(r.cfg.Scope)+1)
	for k, v := range filter {
		out[k] = v
	}
	for k, v := range r.cfg.Scope {
		out[k] = v
	}
	if r.cfg.SoftDelete {
		out[r.cfg.SoftDeleteKey] = bson.M{"$ne": true}
	}
	return out
}

// BuildUpdateOperation returns the fully enriched update document for a
// caller update, for use in ad-hoc bulk writes.
func (r *Repository) BuildUpdateOperation(u corral.Update, opts ...corral.WriteOption) (bson.M, error) {
	if err := r.cfg.CheckWrite(u); err != nil {
		return nil, err
	}
	wo := corral.BuildWriteOptions(opts...)
	return translateWriteOp(r.cfg.BuildWriteOp(corral.WriteUpdate, u, wo.MergeTrace)), nil
}

// opCtx threads the bound session, if any, into the call context.
func (r *Repository) opCtx(ctx context.Context) context.Context {
	if r.session != nil {
		return mongo.NewSessionContext(ctx, r.session)
	}
	return ctx
}

func (r *Repository) nativeID() string {
	return primitive.NewObjectID().Hex()
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
