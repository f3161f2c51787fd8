package mongorepo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

// Create stores a new entity and returns its identity. The write is an
// insert-only upsert keyed by identity and scope: a colliding document is
// never modified, the create just fails with ErrConflict.
func (r *Repository) Create(ctx context.Context, entity corral.Document, opts ...corral.WriteOption) (string, error) {
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)
	id, body, err := r.cfg.PrepareCreate(entity, r.nativeID)
	if err != nil {
		return "", err
	}
	op := r.cfg.BuildWriteOp(corral.WriteCreate, corral.Update{Set: body}, wo.MergeTrace)

	res, err := r.coll.UpdateOne(ctx, r.createFilter(id), translateCreateOp(id, op), options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", corral.ErrConflict{ID: id, Reason: "identity already exists"}
		}
		return "", corral.NewBackendError("create", err)
	}
	if res.UpsertedCount == 0 {
		return "", corral.ErrConflict{ID: id, Reason: "identity already exists"}
	}
	r.logger.Debug("Created document", zap.String("document_id", id))
	return id, nil
}

// CreateMany stores entities in input order via ordered bulk upserts of up to
// maxBatchWrites writes. Identities are generated before dispatch, so the
// partial-failure report carries stable values. On any batch that does not
// upsert every op, ops present in the per-op upsert map count as inserted, the
// rest of the batch as failed, and every subsequent batch as skipped.
func (r *Repository) CreateMany(ctx context.Context, entities []corral.Document, opts ...corral.WriteOption) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)

	ids := make([]string, len(entities))
	models := make([]mongo.WriteModel, len(entities))
	for i, entity := range entities {
		id, body, err := r.cfg.PrepareCreate(entity, r.nativeID)
		if err != nil {
			return nil, err
		}
		op := r.cfg.BuildWriteOp(corral.WriteCreate, corral.Update{Set: body}, wo.MergeTrace)
		ids[i] = id
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(r.createFilter(id)).
			SetUpdate(translateCreateOp(id, op)).
			SetUpsert(true)
	}

	inserted := make([]string, 0, len(ids))
	for start := 0; start < len(models); start += maxBatchWrites {
		end := start + maxBatchWrites
		if end > len(models) {
			end = len(models)
		}
		res, err := r.coll.BulkWrite(ctx, models[start:end], options.BulkWrite().SetOrdered(true))

		var upserted map[int64]interface{}
		if res != nil {
			upserted = res.UpsertedIDs
		}
		if err == nil && len(upserted) == end-start {
			inserted = append(inserted, ids[start:end]...)
			continue
		}

		// Partial batch: classify by the per-op upsert map, then mark every
		// id in the batches never dispatched as failed.
		failed := make([]string, 0, len(ids)-len(inserted))
		for i := start; i < end; i++ {
			if _, ok := upserted[int64(i-start)]; ok {
				inserted = append(inserted, ids[i])
			} else {
				failed = append(failed, ids[i])
			}
		}
		failed = append(failed, ids[end:]...)
		r.logger.Debug("Bulk create partially failed",
			zap.Int("inserted", len(inserted)),
			zap.Int("failed", len(failed)),
		)
		return nil, corral.ErrPartialFailure{InsertedIDs: inserted, FailedIDs: failed, Cause: err}
	}
	r.logger.Debug("Created documents", zap.Int("count", len(ids)))
	return ids, nil
}

// Update applies set/unset assignments to one document. An absent or invisible
// identity is a success with no effect.
func (r *Repository) Update(ctx context.Context, id string, u corral.Update, opts ...corral.WriteOption) error {
	if err := r.cfg.CheckWrite(u); err != nil {
		return err
	}
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)
	op := r.cfg.BuildWriteOp(corral.WriteUpdate, u, wo.MergeTrace)
	if op.IsEmpty() {
		return nil
	}

	filter := r.constrainedFilter(nil)
	filter[idField] = id
	if _, err := r.coll.UpdateOne(ctx, filter, translateWriteOp(op)); err != nil {
		return corral.NewBackendError("update", err)
	}
	return nil
}

// UpdateMany applies the same update to every listed identity, chunking the
// membership predicate. Absent identities are skipped silently.
func (r *Repository) UpdateMany(ctx context.Context, ids []string, u corral.Update, opts ...corral.WriteOption) error {
	if err := r.cfg.CheckWrite(u); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)
	op := r.cfg.BuildWriteOp(corral.WriteUpdate, u, wo.MergeTrace)
	if op.IsEmpty() {
		return nil
	}

	update := translateWriteOp(op)
	for _, chunk := range chunkStrings(ids, maxInChunk) {
		filter := r.constrainedFilter(nil)
		filter[idField] = inFilter(chunk)
		if _, err := r.coll.UpdateMany(ctx, filter, update); err != nil {
			return corral.NewBackendError("updateMany", err)
		}
	}
	r.logger.Debug("Updated documents", zap.Int("count", len(ids)))
	return nil
}

// Delete removes one document, or marks it deleted when soft deletion is on.
// Absent identities are a success; a soft-deleted document is invisible to the
// soft path, so deleting twice bumps nothing twice.
func (r *Repository) Delete(ctx context.Context, id string, opts ...corral.WriteOption) error {
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)

	filter := r.constrainedFilter(nil)
	filter[idField] = id
	if r.cfg.SoftDelete {
		if _, err := r.coll.UpdateOne(ctx, filter, r.softDeleteUpdate(wo.MergeTrace)); err != nil {
			return corral.NewBackendError("delete", err)
		}
		return nil
	}
	if _, err := r.coll.DeleteOne(ctx, filter); err != nil {
		return corral.NewBackendError("delete", err)
	}
	return nil
}

// DeleteMany removes every listed identity, chunking the membership predicate.
func (r *Repository) DeleteMany(ctx context.Context, ids []string, opts ...corral.WriteOption) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = r.opCtx(ctx)
	wo := corral.BuildWriteOptions(opts...)

	var update interface{}
	if r.cfg.SoftDelete {
		update = r.softDeleteUpdate(wo.MergeTrace)
	}
	for _, chunk := range chunkStrings(ids, maxInChunk) {
		filter := r.constrainedFilter(nil)
		filter[idField] = inFilter(chunk)
		var err error
		if r.cfg.SoftDelete {
			_, err = r.coll.UpdateMany(ctx, filter, update)
		} else {
			_, err = r.coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return corral.NewBackendError("deleteMany", err)
		}
	}
	r.logger.Debug("Deleted documents", zap.Int("count", len(ids)))
	return nil
}

// softDeleteUpdate is the fully enriched soft-delete write: the deletion mark
// plus timestamps, version bump, and trace, exactly like any other write.
func (r *Repository) softDeleteUpdate(merge corral.Trace) interface{} {
	op := r.cfg.BuildWriteOp(corral.WriteDelete, corral.Update{}, merge)
	if op.Set == nil {
		op.Set = corral.Document{}
	}
	op.Set[r.cfg.SoftDeleteKey] = true
	return translateWriteOp(op)
}
