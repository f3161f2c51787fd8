package firerepo

import (
	"context"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/corralkit/corral"
)

// Create stores a new entity and returns its identity. The underlying write
// is create-only: a colliding document, soft-deleted or not, fails the call
// with ErrConflict and is never modified.
func (r *Repository) Create(ctx context.Context, entity corral.Document, opts ...corral.WriteOption) (string, error) {
	wo := corral.BuildWriteOptions(opts...)
	id, body, err := r.cfg.PrepareCreate(entity, r.nativeID)
	if err != nil {
		return "", err
	}
	op := r.cfg.BuildWriteOp(corral.WriteCreate, corral.Update{Set: body}, wo.MergeTrace)
	data := r.createData(op)

	ref := r.coll.Doc(id)
	if r.tx != nil {
		err = r.tx.Create(ref, data)
	} else {
		_, err = ref.Create(ctx, data)
	}
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", corral.ErrConflict{ID: id, Reason: "identity already exists"}
		}
		return "", corral.NewBackendError("create", err)
	}
	r.logger.Debug("Created document", zap.String("document_id", id))
	return id, nil
}

// CreateMany stores entities in input order via atomic batches of up to
// maxBatchWrites creates. Identities are generated before dispatch, so the
// partial-failure report carries stable values. A batch is all-or-nothing: a
// failed commit fails its whole batch and skips every later one, and the
// batches committed before it stay committed.
func (r *Repository) CreateMany(ctx context.Context, entities []corral.Document, opts ...corral.WriteOption) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	wo := corral.BuildWriteOptions(opts...)

	ids := make([]string, len(entities))
	data := make([]map[string]interface{}, len(entities))
	for i, entity := range entities {
		id, body, err := r.cfg.PrepareCreate(entity, r.nativeID)
		if err != nil {
			return nil, err
		}
		op := r.cfg.BuildWriteOp(corral.WriteCreate, corral.Update{Set: body}, wo.MergeTrace)
		ids[i] = id
		data[i] = r.createData(op)
	}

	if r.tx != nil {
		// Inside a transaction the whole operation is one atomic unit;
		// partial-failure reporting does not apply.
		for i := range ids {
			if err := r.tx.Create(r.coll.Doc(ids[i]), data[i]); err != nil {
				return nil, corral.NewBackendError("createMany", err)
			}
		}
		return ids, nil
	}

	for start := 0; start < len(ids); start += maxBatchWrites {
		end := start + maxBatchWrites
		if end > len(ids) {
			end = len(ids)
		}
		batch := r.client.Batch()
		for i := start; i < end; i++ {
			batch.Create(r.coll.Doc(ids[i]), data[i])
		}
		if _, err := batch.Commit(ctx); err != nil {
			inserted := make([]string, start)
			copy(inserted, ids[:start])
			failed := make([]string, len(ids)-start)
			copy(failed, ids[start:])
			r.logger.Debug("Batch create partially failed",
				zap.Int("inserted", len(inserted)),
				zap.Int("failed", len(failed)),
			)
			return nil, corral.ErrPartialFailure{InsertedIDs: inserted, FailedIDs: failed, Cause: err}
		}
	}
	r.logger.Debug("Created documents", zap.Int("count", len(ids)))
	return ids, nil
}

// Update applies set/unset assignments to one document. An absent or
// invisible identity is a success with no effect; visibility is established
// by a keys-only pre-check, because updating a missing reference would fail
// instead of no-oping.
func (r *Repository) Update(ctx context.Context, id string, u corral.Update, opts ...corral.WriteOption) error {
	return r.applyUpdateMany(ctx, []string{id}, u, corral.BuildWriteOptions(opts...), corral.WriteUpdate)
}

// UpdateMany applies the same update to every listed identity. Absent
// identities are skipped silently.
func (r *Repository) UpdateMany(ctx context.Context, ids []string, u corral.Update, opts ...corral.WriteOption) error {
	if len(ids) == 0 {
		return nil
	}
	return r.applyUpdateMany(ctx, ids, u, corral.BuildWriteOptions(opts...), corral.WriteUpdate)
}

// Delete removes one document, or marks it deleted when soft deletion is on.
// Absent identities are a success.
func (r *Repository) Delete(ctx context.Context, id string, opts ...corral.WriteOption) error {
	return r.DeleteMany(ctx, []string{id}, opts...)
}

// DeleteMany removes every listed identity. The soft path is a fully
// enriched update writing the deletion mark; the hard path deletes
// references directly, pre-checking visibility only when a scope could
// otherwise let one tenant delete another's documents.
func (r *Repository) DeleteMany(ctx context.Context, ids []string, opts ...corral.WriteOption) error {
	if len(ids) == 0 {
		return nil
	}
	wo := corral.BuildWriteOptions(opts...)
	if r.cfg.SoftDelete {
		return r.applyUpdateMany(ctx, ids, corral.Update{}, wo, corral.WriteDelete)
	}

	targets := ids
	if len(r.cfg.Scope) > 0 {
		visible, err := r.visibleIDs(ctx, ids)
		if err != nil {
			return err
		}
		targets = visible
	}
	if len(targets) == 0 {
		return nil
	}

	if r.tx != nil {
		for _, id := range targets {
			if err := r.tx.Delete(r.coll.Doc(id)); err != nil {
				return corral.NewBackendError("deleteMany", err)
			}
		}
		return nil
	}
	for _, chunk := range chunkStrings(targets, maxBatchWrites) {
		batch := r.client.Batch()
		for _, id := range chunk {
			batch.Delete(r.coll.Doc(id))
		}
		if _, err := batch.Commit(ctx); err != nil {
			return corral.NewBackendError("deleteMany", err)
		}
	}
	r.logger.Debug("Deleted documents", zap.Int("count", len(targets)))
	return nil
}

// applyUpdateMany is the shared in-place write path for updates and soft
// deletes: validate, enrich, pre-check visibility, then batch field updates.
func (r *Repository) applyUpdateMany(ctx context.Context, ids []string, u corral.Update, wo corral.WriteOptions, kind corral.WriteKind) error {
	if err := r.cfg.CheckWrite(u); err != nil {
		return err
	}
	op := r.cfg.BuildWriteOp(kind, u, wo.MergeTrace)
	if kind == corral.WriteDelete {
		if op.Set == nil {
			op.Set = corral.Document{}
		}
		op.Set[r.cfg.SoftDeleteKey] = true
	}
	if op.IsEmpty() {
		return nil
	}
	updates := translateUpdates(op)

	visible, err := r.visibleIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(visible) == 0 {
		return nil
	}

	if r.tx != nil {
		for _, id := range visible {
			if err := r.tx.Update(r.coll.Doc(id), updates); err != nil {
				return corral.NewBackendError("updateMany", err)
			}
		}
		return nil
	}
	for _, chunk := range chunkStrings(visible, maxBatchWrites) {
		batch := r.client.Batch()
		for _, id := range chunk {
			batch.Update(r.coll.Doc(id), updates)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return corral.NewBackendError("updateMany", err)
		}
	}
	r.logger.Debug("Updated documents", zap.Int("count", len(visible)))
	return nil
}

// visibleIDs filters ids down to those with a visible document, preserving
// input order, via keys-only membership queries.
func (r *Repository) visibleIDs(ctx context.Context, ids []string) ([]string, error) {
	found := make(map[string]struct{}, len(ids))
	for _, chunk := range chunkStrings(ids, maxInChunk) {
		q := r.constrainedQuery(nil).
			Where(firestore.DocumentID, "in", r.refs(chunk)).
			Select()
		it := r.docs(ctx, q)
		for {
			snap, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				it.Stop()
				return nil, corral.NewBackendError("updateMany", err)
			}
			found[snap.Ref.ID] = struct{}{}
		}
		it.Stop()
	}
	out := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}
