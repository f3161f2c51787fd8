package mongorepo

import (
	"context"
	"errors"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/corralkit/corral"
)

// GetByID returns the visible document with the given identity, or (nil, nil)
// when there is none.
func (r *Repository) GetByID(ctx context.Context, id string, opts ...corral.QueryOption) (corral.Document, error) {
	ctx = r.opCtx(ctx)
	qo := corral.BuildQueryOptions(opts...)
	filter := r.constrainedFilter(nil)
	filter[idField] = id

	var raw bson.M
	err := r.coll.FindOne(ctx, filter, options.FindOne().SetProjection(r.projectionDoc(qo.Projection))).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, corral.NewBackendError("getById", err)
	}
	return r.cfg.MapOut(corral.Document(raw), id, qo.Projection), nil
}

// GetByIDs partitions ids into found documents and missing identities,
// querying visible documents in membership chunks.
func (r *Repository) GetByIDs(ctx context.Context, ids []string, opts ...corral.QueryOption) ([]corral.Document, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	ctx = r.opCtx(ctx)
	qo := corral.BuildQueryOptions(opts...)

	found := make(map[string]corral.Document, len(ids))
	for _, chunk := range chunkStrings(ids, maxInChunk) {
		filter := r.constrainedFilter(nil)
		filter[idField] = bson.M{"$in": chunk}
		cur, err := r.coll.Find(ctx, filter, options.Find().SetProjection(r.projectionDoc(qo.Projection)))
		if err != nil {
			return nil, nil, corral.NewBackendError("getByIds", err)
		}
		var raws []bson.M
		if err := cur.All(ctx, &raws); err != nil {
			return nil, nil, corral.NewBackendError("getByIds", err)
		}
		for _, raw := range raws {
			doc := corral.Document(raw)
			id := rawID(doc)
			found[id] = r.cfg.MapOut(doc, id, qo.Projection)
		}
	}

	docs := make([]corral.Document, 0, len(found))
	var missing []string
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
			continue
		}
		missing = append(missing, id)
	}
	return docs, missing, nil
}

// Exists reports whether a visible document has the given identity.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	ctx = r.opCtx(ctx)
	filter := r.constrainedFilter(nil)
	filter[idField] = id
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, corral.NewBackendError("exists", err)
	}
	return n > 0, nil
}

// Find returns a lazy stream over the matching visible documents.
func (r *Repository) Find(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	ctx = r.opCtx(ctx)
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return nil, err
	}
	if empty {
		return corral.StreamOf[corral.Document](), nil
	}

	findOpts := options.Find().
		SetSort(sortDoc(r.translateOrder(qo.Sort))).
		SetProjection(r.projectionDoc(qo.Projection))
	if qo.Limit > 0 {
		findOpts.SetLimit(int64(qo.Limit))
	}
	cur, err := r.coll.Find(ctx, r.constrainedFilter(gated), findOpts)
	if err != nil {
		return nil, corral.NewBackendError("find", err)
	}
	r.logger.Debug("Executing find",
		zap.Int("filter_fields", len(f)),
		zap.Int("sort_keys", len(qo.Sort)),
	)

	projection := qo.Projection
	return corral.NewStream(func(ctx context.Context) (corral.Document, error) {
		if cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				return nil, corral.NewBackendError("find", err)
			}
			doc := corral.Document(raw)
			return r.cfg.MapOut(doc, rawID(doc), projection), nil
		}
		if err := cur.Err(); err != nil {
			return nil, corral.NewBackendError("find", err)
		}
		return nil, io.EOF
	}, func(ctx context.Context) error {
		return cur.Close(ctx)
	}), nil
}

// FindPage returns one page under a stable ordering. The cursor token is the
// backend identity of the previous page's last item; a token that does not
// resolve to a visible document is an invalid cursor.
func (r *Repository) FindPage(ctx context.Context, f corral.Filter, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	if page.Limit < 1 {
		return &corral.Page{Items: []corral.Document{}}, nil
	}
	ctx = r.opCtx(ctx)
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return nil, err
	}
	if empty {
		return &corral.Page{Items: []corral.Document{}}, nil
	}

	order := r.translateOrder(qo.Sort)
	filter := r.constrainedFilter(gated)
	if page.Cursor != "" {
		boundary, err := r.cursorBoundary(ctx, page.Cursor)
		if err != nil {
			return nil, err
		}
		after := clauseFilter(corral.CursorConditions(order, boundary))
		filter = bson.M{"$and": []bson.M{filter, after}}
	}

	findOpts := options.Find().
		SetSort(sortDoc(order)).
		SetLimit(int64(page.Limit) + 1).
		SetProjection(r.projectionDoc(qo.Projection))
	cur, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, corral.NewBackendError("findPage", err)
	}
	defer cur.Close(ctx)

	items := make([]corral.Document, 0, page.Limit)
	lastID := ""
	hasMore := false
	for cur.Next(ctx) {
		if len(items) == page.Limit {
			hasMore = true
			break
		}
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, corral.NewBackendError("findPage", err)
		}
		doc := corral.Document(raw)
		id := rawID(doc)
		items = append(items, r.cfg.MapOut(doc, id, qo.Projection))
		lastID = id
	}
	if err := cur.Err(); err != nil {
		return nil, corral.NewBackendError("findPage", err)
	}

	out := &corral.Page{Items: items, HasMore: hasMore}
	if hasMore {
		out.NextCursor = lastID
	}
	return out, nil
}

// cursorBoundary resolves a cursor token to the boundary document, unmapped,
// so order-field comparisons see stored values.
func (r *Repository) cursorBoundary(ctx context.Context, token string) (corral.Document, error) {
	filter := r.constrainedFilter(nil)
	filter[idField] = token
	var raw bson.M
	if err := r.coll.FindOne(ctx, filter).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corral.ErrInvalidCursor{Cursor: token, Reason: "cursor document not visible under current scope"}
		}
		return nil, corral.NewBackendError("findPage", err)
	}
	return corral.Document(raw), nil
}

// Count returns the number of visible documents matching the filter.
func (r *Repository) Count(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (int64, error) {
	ctx = r.opCtx(ctx)
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return 0, err
	}
	if empty {
		return 0, nil
	}
	n, err := r.coll.CountDocuments(ctx, r.constrainedFilter(gated))
	if err != nil {
		return 0, corral.NewBackendError("count", err)
	}
	return n, nil
}

// FindBySpec streams the documents matching a specification.
func (r *Repository) FindBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	r.logger.Debug("Executing specification query", zap.String("specification", s.Description()))
	return r.Find(ctx, s.ToFilter(), opts...)
}

// FindPageBySpec pages the documents matching a specification.
func (r *Repository) FindPageBySpec(ctx context.Context, s corral.Specification, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	return r.FindPage(ctx, s.ToFilter(), page, opts...)
}

// CountBySpec counts the documents matching a specification.
func (r *Repository) CountBySpec(ctx context.Context, s corral.Specification, opts ...corral.QueryOption) (int64, error) {
	return r.Count(ctx, s.ToFilter(), opts...)
}
