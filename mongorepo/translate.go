package mongorepo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/corralkit/corral"
)

// idField is the backend identity attribute. Identities are stored as plain
// strings (hex of a driver ObjectID under the server strategy) so ordering
// and cursor comparisons stay lexicographic across identity strategies.
const idField = "_id"

// fieldName maps a public attribute to its stored name.
func (r *Repository) fieldName(key string) string {
	if key == r.cfg.IDKey {
		return idField
	}
	return key
}

// constrainedFilter is the caller filter plus the scope and the soft-delete
// predicate; every read and every in-place write goes through it. Re-stamping
// the scope over an already gated filter is a no-op: the values are identical.
func (r *Repository) constrainedFilter(f corral.Filter) bson.M {
	out := make(bson.M, len(f)+len(r.cfg.Scope)+1)
	for k, v := range r.cfg.Scope {
		out[k] = v
	}
	for k, v := range f {
		out[r.fieldName(k)] = v
	}
	if r.cfg.SoftDelete {
		out[r.cfg.SoftDeleteKey] = bson.M{"$ne": true}
	}
	return out
}

// createFilter keys an insert-only upsert: the identity plus the scope, so a
// cross-scope identity collision surfaces as a duplicate-key insert instead of
// silently matching another tenant's document.
func (r *Repository) createFilter(id string) bson.M {
	out := make(bson.M, len(r.cfg.Scope)+1)
	for k, v := range r.cfg.Scope {
		out[k] = v
	}
	out[idField] = id
	return out
}

// translateOrder renders an ordering with the identity tiebreaker appended.
// The identity makes the order total, so keys listed after it are dropped.
func (r *Repository) translateOrder(sort []corral.Order) []corral.Order {
	order := make([]corral.Order, 0, len(sort)+1)
	for _, o := range sort {
		order = append(order, corral.Order{Field: r.fieldName(o.Field), Desc: o.Desc})
		if order[len(order)-1].Field == idField {
			return order
		}
	}
	return corral.WithIdentityTail(order, idField)
}

func sortDoc(order []corral.Order) bson.D {
	out := make(bson.D, 0, len(order))
	for _, o := range order {
		dir := 1
		if o.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: o.Field, Value: dir})
	}
	return out
}

// projectionDoc builds the server-side projection: an inclusion list for a
// caller projection, otherwise an exclusion of the hidden metadata keys.
func (r *Repository) projectionDoc(projection []string) bson.D {
	if len(projection) == 0 {
		out := make(bson.D, 0, len(r.cfg.HiddenKeys()))
		for _, k := range r.cfg.HiddenKeys() {
			if k == idField {
				continue // the identity must travel with every document
			}
			out = append(out, bson.E{Key: k, Value: 0})
		}
		return out
	}
	out := make(bson.D, 0, len(projection))
	for _, k := range projection {
		if k == r.cfg.IDKey {
			continue // _id is included by default
		}
		out = append(out, bson.E{Key: k, Value: 1})
	}
	return out
}

// translateWriteOp renders the neutral descriptor as a Mongo update document.
// A $currentDate field and a value assignment on the same path would be an
// illegal update, so server stamping wins over a seeded value.
func translateWriteOp(op corral.WriteOp) bson.M {
	set := corral.Document(nil)
	setOnInsert := corral.Document(nil)
	if len(op.Set) > 0 {
		set = cloneShallow(op.Set)
	}
	if len(op.SetOnInsert) > 0 {
		setOnInsert = cloneShallow(op.SetOnInsert)
	}
	for _, k := range op.CurrentDate {
		delete(set, k)
		delete(setOnInsert, k)
	}

	update := bson.M{}
	if len(setOnInsert) > 0 {
		update["$setOnInsert"] = bson.M(setOnInsert)
	}
	if len(set) > 0 {
		update["$set"] = bson.M(set)
	}
	if len(op.Inc) > 0 {
		inc := make(bson.M, len(op.Inc))
		for k, d := range op.Inc {
			inc[k] = d
		}
		update["$inc"] = inc
	}
	if len(op.Unset) > 0 {
		unset := make(bson.M, len(op.Unset))
		for _, k := range op.Unset {
			unset[k] = ""
		}
		update["$unset"] = unset
	}
	if len(op.Push) > 0 {
		push := make(bson.M, len(op.Push))
		for k, spec := range op.Push {
			each := bson.M{"$each": spec.Values}
			if spec.KeepLast > 0 {
				each["$slice"] = -spec.KeepLast
			}
			push[k] = each
		}
		update["$push"] = push
	}
	if len(op.CurrentDate) > 0 {
		cd := make(bson.M, len(op.CurrentDate))
		for _, k := range op.CurrentDate {
			cd[k] = true
		}
		update["$currentDate"] = cd
	}
	return update
}

// translateCreateOp folds an enriched create descriptor into insert-only
// form. Creates run as upserts so the per-op upsert map classifies outcomes;
// everything must live under $setOnInsert or a colliding document would be
// modified by its own failed create. CurrentDate folds to the seeded clock
// values already present in the descriptor. The identity is seeded explicitly:
// it matches the upsert filter, and it keeps the update document non-empty for
// entities with no attributes and no metadata roles.
func translateCreateOp(id string, op corral.WriteOp) bson.M {
	ins := make(corral.Document, len(op.SetOnInsert)+len(op.Set)+len(op.Push)+len(op.Inc)+1)
	ins[idField] = id
	for k, v := range op.SetOnInsert {
		ins[k] = v
	}
	for k, v := range op.Set {
		ins[k] = v
	}
	for k, spec := range op.Push {
		values := make([]any, len(spec.Values))
		copy(values, spec.Values)
		ins[k] = values
	}
	for k, d := range op.Inc {
		ins[k] = d
	}
	return bson.M{"$setOnInsert": bson.M(ins)}
}

// clauseFilter renders cursor clauses as a $or of $and conjunctions.
func clauseFilter(clauses []corral.CursorClause) bson.M {
	or := make([]bson.M, 0, len(clauses))
	for _, clause := range clauses {
		and := make([]bson.M, 0, len(clause))
		for _, c := range clause {
			and = append(and, conditionFilter(c))
		}
		or = append(or, bson.M{"$and": and})
	}
	return bson.M{"$or": or}
}

func conditionFilter(c corral.CursorCondition) bson.M {
	switch c.Op {
	case corral.CursorGt:
		return bson.M{c.Field: bson.M{"$gt": c.Value}}
	case corral.CursorGtNull:
		// Excludes both explicit nulls and missing fields.
		return bson.M{c.Field: bson.M{"$ne": nil}}
	case corral.CursorLtOrNull:
		return bson.M{"$or": []bson.M{
			{c.Field: bson.M{"$lt": c.Value}},
			{c.Field: nil},
		}}
	case corral.CursorLtNull:
		// Less than the minimum sentinel: matches nothing, by construction.
		return bson.M{c.Field: bson.M{"$lt": primitive.MinKey{}}}
	default:
		// Equality on nil matches explicit null and missing alike.
		return bson.M{c.Field: c.Value}
	}
}

// rawID extracts the backend identity from a decoded document. Collections
// shared with other writers may carry ObjectID identities.
func rawID(raw corral.Document) string {
	switch id := raw[idField].(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return ""
	}
}

// inFilter is a membership predicate over one identity chunk.
func inFilter(ids []string) bson.M {
	return bson.M{"$in": ids}
}

func cloneShallow(d corral.Document) corral.Document {
	out := make(corral.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
