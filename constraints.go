package corral

import "sort"

// CheckWrite validates a caller update before any backend I/O. It rejects
// attributes present in both halves, then any set or unset touching a managed
// or scope attribute. Offending fields are reported sorted, all at once.
func (c *Config) CheckWrite(u Update) error {
	if len(u.Set) > 0 && len(u.Unset) > 0 {
		var overlap []string
		for _, k := range u.Unset {
			if _, both := u.Set[k]; both {
				overlap = append(overlap, k)
			}
		}
		if len(overlap) > 0 {
			sort.Strings(overlap)
			return ErrSetUnsetOverlap{Fields: overlap}
		}
	}

	var violations []string
	for k := range u.Set {
		if c.IsReadonly(k) {
			violations = append(violations, k)
		}
	}
	for _, k := range u.Unset {
		if c.IsReadonly(k) {
			violations = append(violations, k)
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		return ErrReadonlyViolation{Fields: violations}
	}
	return nil
}

// PrepareCreate normalizes a caller entity into (identity, storage body). It
// prunes Absent attributes, consumes an identity supplied under the id key,
// silently strips managed attributes, verifies supplied scope values against
// the scope, stamps the scope, and mirrors the identity when configured.
// nativeID produces a backend-native identity and is consulted only under the
// server strategy when the entity carries none.
func (c *Config) PrepareCreate(entity Document, nativeID func() string) (string, Document, error) {
	body := pruneAbsent(entity)
	if body == nil {
		body = Document{}
	}

	var id string
	if v, ok := body[c.IDKey].(string); ok {
		id = v
	}

	for k := range body {
		if c.IsManaged(k) {
			delete(body, k)
		}
	}

	var mismatched []string
	for k, want := range c.Scope {
		if got, supplied := body[k]; supplied && !ScalarEqual(got, want) {
			mismatched = append(mismatched, k)
		}
		body[k] = want
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return "", nil, ErrReadonlyViolation{Fields: mismatched}
	}

	if id == "" {
		if c.Identity == IdentitySupplied {
			id = c.NewID()
		} else {
			id = nativeID()
		}
	}
	if c.MirrorID {
		body[c.IDKey] = id
	}
	return id, body, nil
}

// GateFilter applies the scope to a read filter. A filter contradicting the
// scope is a breach: with failOnBreach the breach is an error, otherwise the
// read is answered statically empty (second return true). The returned filter
// is the caller's filter intersected with the scope; the soft-delete
// predicate is not an equality and is appended natively by each adapter.
func (c *Config) GateFilter(f Filter, failOnBreach bool) (Filter, bool, error) {
	for k, got := range f {
		want, scoped := c.Scope[k]
		if scoped && !ScalarEqual(got, want) {
			if failOnBreach {
				return nil, false, ErrScopeBreach{Field: k, Want: want, Got: got}
			}
			return nil, true, nil
		}
	}
	gated := make(Filter, len(f)+len(c.Scope))
	for k, v := range c.Scope {
		gated[k] = v
	}
	for k, v := range f {
		gated[k] = v
	}
	return gated, false, nil
}
