package firerepo

import (
	"sort"

	"cloud.google.com/go/firestore"

	"github.com/corralkit/corral"
)

// constrainedQuery is the caller filter plus the scope and the soft-delete
// predicate. Scope keys already present in a gated filter carry identical
// values, so they are skipped rather than doubled. A filter on the public id
// key becomes a document-name comparison.
func (r *Repository) constrainedQuery(f corral.Filter) firestore.Query {
	q := r.coll.Query
	for k, v := range r.cfg.Scope {
		q = q.Where(k, "==", v)
	}
	for k, v := range f {
		if _, scoped := r.cfg.Scope[k]; scoped {
			continue
		}
		if k == r.cfg.IDKey {
			if id, ok := v.(string); ok {
				q = q.Where(firestore.DocumentID, "==", r.coll.Doc(id))
				continue
			}
		}
		q = q.Where(k, "==", v)
	}
	if r.cfg.SoftDelete {
		q = q.Where(r.cfg.SoftDeleteKey, "==", false)
	}
	return q
}

// translateOrder renders an ordering with the document-name tiebreaker
// appended. The name makes the order total, so keys listed after it drop.
func (r *Repository) translateOrder(sort []corral.Order) []corral.Order {
	order := make([]corral.Order, 0, len(sort)+1)
	for _, o := range sort {
		field := o.Field
		if field == r.cfg.IDKey {
			field = firestore.DocumentID
		}
		order = append(order, corral.Order{Field: field, Desc: o.Desc})
		if field == firestore.DocumentID {
			return order
		}
	}
	return corral.WithIdentityTail(order, firestore.DocumentID)
}

// applyOrder attaches the ordering to a query.
func applyOrder(q firestore.Query, order []corral.Order) firestore.Query {
	for _, o := range order {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(o.Field, dir)
	}
	return q
}

// applyProjection pushes a caller projection down. Firestore cannot exclude
// fields server-side, so the no-projection case fetches everything and MapOut
// strips the hidden metadata in-process.
func (r *Repository) applyProjection(q firestore.Query, projection []string) firestore.Query {
	if len(projection) == 0 {
		return q
	}
	paths := make([]string, 0, len(projection))
	for _, k := range projection {
		if k == r.cfg.IDKey {
			continue // the document name always travels with a snapshot
		}
		if r.cfg.IsHidden(k) {
			continue
		}
		paths = append(paths, k)
	}
	return q.Select(paths...)
}

// visible reports whether stored data passes the scope and soft-delete
// constraints, for reads that address a document by name and therefore bypass
// the query predicates.
func (r *Repository) visible(data map[string]interface{}) bool {
	for k, want := range r.cfg.Scope {
		got, ok := data[k]
		if !ok || !corral.ScalarEqual(got, want) {
			return false
		}
	}
	if r.cfg.SoftDelete {
		if deleted, _ := data[r.cfg.SoftDeleteKey].(bool); deleted {
			return false
		}
	}
	return true
}

// createData materializes an enriched create descriptor into the stored
// document. Creates land whole, so every section folds into plain fields;
// server-stamped keys become ServerTimestamp sentinels, and soft-delete
// repositories seed the marker with false because Firestore equality is the
// only predicate that reliably excludes deleted documents.
func (r *Repository) createData(op corral.WriteOp) map[string]interface{} {
	data := make(map[string]interface{}, len(op.SetOnInsert)+len(op.Set)+len(op.Push)+len(op.Inc)+len(op.CurrentDate)+1)
	for k, v := range op.SetOnInsert {
		data[k] = v
	}
	for k, v := range op.Set {
		data[k] = v
	}
	for k, spec := range op.Push {
		values := make([]interface{}, len(spec.Values))
		copy(values, spec.Values)
		data[k] = values
	}
	for k, d := range op.Inc {
		data[k] = d
	}
	for _, k := range op.CurrentDate {
		data[k] = firestore.ServerTimestamp
	}
	if r.cfg.SoftDelete {
		data[r.cfg.SoftDeleteKey] = false
	}
	return data
}

// translateUpdates renders the neutral descriptor as Firestore field updates.
// Server stamping wins over a seeded value on the same path. The result is
// sorted by path so translation is deterministic.
func translateUpdates(op corral.WriteOp) []firestore.Update {
	stamped := make(map[string]struct{}, len(op.CurrentDate))
	for _, k := range op.CurrentDate {
		stamped[k] = struct{}{}
	}

	updates := make([]firestore.Update, 0, len(op.Set)+len(op.Inc)+len(op.Unset)+len(op.Push)+len(op.CurrentDate))
	for k, v := range op.Set {
		if _, s := stamped[k]; s {
			continue
		}
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	for k, d := range op.Inc {
		updates = append(updates, firestore.Update{Path: k, Value: firestore.Increment(d)})
	}
	for _, k := range op.Unset {
		updates = append(updates, firestore.Update{Path: k, Value: firestore.Delete})
	}
	for k, spec := range op.Push {
		// Bounded pushes never reach this adapter; construction rejects them.
		updates = append(updates, firestore.Update{Path: k, Value: firestore.ArrayUnion(spec.Values...)})
	}
	for _, k := range op.CurrentDate {
		updates = append(updates, firestore.Update{Path: k, Value: firestore.ServerTimestamp})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Path < updates[j].Path })
	return updates
}
