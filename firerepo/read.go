package firerepo

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/corralkit/corral"
)

var errMissingCount = errors.New("count aggregation returned no result")

// getDoc reads one document by reference, through the bound transaction when
// there is one.
func (r *Repository) getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if r.tx != nil {
		return r.tx.Get(ref)
	}
	return ref.Get(ctx)
}

// docs runs a query, through the bound transaction when there is one.
func (r *Repository) docs(ctx context.Context, q firestore.Query) *firestore.DocumentIterator {
	if r.tx != nil {
		return r.tx.Documents(q)
	}
	return q.Documents(ctx)
}

// GetByID returns the visible document with the given identity, or (nil, nil)
// when there is none. The read addresses the document by name, so scope and
// soft-delete visibility are checked in-process.
func (r *Repository) GetByID(ctx context.Context, id string, opts ...corral.QueryOption) (corral.Document, error) {
	if id == "" {
		return nil, nil
	}
	qo := corral.BuildQueryOptions(opts...)
	snap, err := r.getDoc(ctx, r.coll.Doc(id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, corral.NewBackendError("getById", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	data := snap.Data()
	if !r.visible(data) {
		return nil, nil
	}
	return r.cfg.MapOut(corral.Document(data), snap.Ref.ID, qo.Projection), nil
}

// GetByIDs partitions ids into found documents and missing identities,
// querying visible documents in membership chunks.
func (r *Repository) GetByIDs(ctx context.Context, ids []string, opts ...corral.QueryOption) ([]corral.Document, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	qo := corral.BuildQueryOptions(opts...)

	found := make(map[string]corral.Document, len(ids))
	for _, chunk := range chunkStrings(ids, maxInChunk) {
		q := r.applyProjection(r.constrainedQuery(nil).Where(firestore.DocumentID, "in", r.refs(chunk)), qo.Projection)
		it := r.docs(ctx, q)
		for {
			snap, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				it.Stop()
				return nil, nil, corral.NewBackendError("getByIds", err)
			}
			found[snap.Ref.ID] = r.cfg.MapOut(corral.Document(snap.Data()), snap.Ref.ID, qo.Projection)
		}
		it.Stop()
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
	if id == "" {
		return false, nil
	}
	q := r.constrainedQuery(nil).
		Where(firestore.DocumentID, "==", r.coll.Doc(id)).
		Select().
		Limit(1)
	it := r.docs(ctx, q)
	defer it.Stop()
	_, err := it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, corral.NewBackendError("exists", err)
	}
	return true, nil
}

// Find returns a lazy stream over the matching visible documents.
func (r *Repository) Find(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (*corral.Stream[corral.Document], error) {
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return nil, err
	}
	if empty {
		return corral.StreamOf[corral.Document](), nil
	}

	q := r.applyProjection(applyOrder(r.constrainedQuery(gated), r.translateOrder(qo.Sort)), qo.Projection)
	if qo.Limit > 0 {
		q = q.Limit(qo.Limit)
	}
	it := r.docs(ctx, q)
	r.logger.Debug("Executing find",
		zap.Int("filter_fields", len(f)),
		zap.Int("sort_keys", len(qo.Sort)),
	)

	projection := qo.Projection
	return corral.NewStream(func(context.Context) (corral.Document, error) {
		snap, err := it.Next()
		if err == iterator.Done {
			return nil, io.EOF
		}
		if err != nil {
			return nil, corral.NewBackendError("find", err)
		}
		return r.cfg.MapOut(corral.Document(snap.Data()), snap.Ref.ID, projection), nil
	}, func(context.Context) error {
		it.Stop()
		return nil
	}), nil
}

// FindPage returns one page under a stable ordering. The cursor token is the
// backend identity of the previous page's last item; it resolves to a
// document snapshot passed to StartAfter, which gives the same exclusive
// bound the neutral cursor engine builds for backends without native cursors.
// A token that does not resolve to a visible document is an invalid cursor.
func (r *Repository) FindPage(ctx context.Context, f corral.Filter, page corral.PageRequest, opts ...corral.QueryOption) (*corral.Page, error) {
	if page.Limit < 1 {
		return &corral.Page{Items: []corral.Document{}}, nil
	}
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return nil, err
	}
	if empty {
		return &corral.Page{Items: []corral.Document{}}, nil
	}

	q := applyOrder(r.constrainedQuery(gated), r.translateOrder(qo.Sort))
	if page.Cursor != "" {
		snap, err := r.getDoc(ctx, r.coll.Doc(page.Cursor))
		if err != nil && status.Code(err) != codes.NotFound {
			return nil, corral.NewBackendError("findPage", err)
		}
		if err != nil || !snap.Exists() || !r.visible(snap.Data()) {
			return nil, corral.ErrInvalidCursor{Cursor: page.Cursor, Reason: "cursor document not visible under current scope"}
		}
		q = q.StartAfter(snap)
	}
	q = r.applyProjection(q, qo.Projection).Limit(page.Limit + 1)

	it := r.docs(ctx, q)
	defer it.Stop()

	items := make([]corral.Document, 0, page.Limit)
	lastID := ""
	hasMore := false
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corral.NewBackendError("findPage", err)
		}
		if len(items) == page.Limit {
			hasMore = true
			break
		}
		items = append(items, r.cfg.MapOut(corral.Document(snap.Data()), snap.Ref.ID, qo.Projection))
		lastID = snap.Ref.ID
	}

	out := &corral.Page{Items: items, HasMore: hasMore}
	if hasMore {
		out.NextCursor = lastID
	}
	return out, nil
}

// Count returns the number of visible documents matching the filter. Outside
// a transaction it runs a server-side count aggregation; aggregation queries
// cannot join a transaction, so bound repositories count by iterating a
// keys-only read instead.
func (r *Repository) Count(ctx context.Context, f corral.Filter, opts ...corral.QueryOption) (int64, error) {
	qo := corral.BuildQueryOptions(opts...)
	gated, empty, err := r.cfg.GateFilter(f, qo.FailOnBreach)
	if err != nil {
		return 0, err
	}
	if empty {
		return 0, nil
	}
	q := r.constrainedQuery(gated)

	if r.tx != nil {
		it := r.tx.Documents(q.Select())
		defer it.Stop()
		var n int64
		for {
			_, err := it.Next()
			if err == iterator.Done {
				return n, nil
			}
			if err != nil {
				return 0, corral.NewBackendError("count", err)
			}
			n++
		}
	}

	res, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, corral.NewBackendError("count", err)
	}
	v, ok := res["count"].(*firestorepb.Value)
	if !ok {
		return 0, corral.NewBackendError("count", errMissingCount)
	}
	return v.GetIntegerValue(), nil
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

// refs maps identities to document references rooted at the collection.
func (r *Repository) refs(ids []string) []*firestore.DocumentRef {
	out := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		out[i] = r.coll.Doc(id)
	}
	return out
}
