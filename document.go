package corral

// Document is the unit of storage: a schemaless attribute map. The identity
// attribute (Options.IDKey, "id" by default) is synthesized on reads from the
// backend identity; managed metadata attributes are maintained by the
// repository and stripped or rejected when supplied by callers.
type Document map[string]any

// Filter is an equality-only predicate over document attributes. Every entry
// must match for a document to qualify. Richer operators (ranges, disjunction)
// are deliberately not part of the public surface.
type Filter map[string]any

// Scope is the attribute map a repository instance is bound to at
// construction. It filters every read and stamps every create. Values must be
// scalar primitives (string, bool, integer, or float).
type Scope map[string]any

// Trace is caller context attached to writes for attribution. Persisted trace
// records are the merged context plus the operation name and a timestamp.
type Trace map[string]any

// Absent marks an attribute as "not supplied". Entries carrying Absent are
// stripped before a write at any nesting depth; nil is kept and persists as an
// explicit null.
var Absent = absentValue{}

type absentValue struct{}

func (absentValue) String() string { return "<absent>" }

// pruneAbsent returns a copy of doc with Absent-valued entries removed at any
// depth. Absent elements inside slices collapse to nil, since a sequence
// cannot drop positions without shifting its siblings.
func pruneAbsent(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		if _, skip := v.(absentValue); skip {
			continue
		}
		out[k] = pruneValue(v)
	}
	return out
}

func pruneValue(v any) any {
	switch vv := v.(type) {
	case absentValue:
		return nil
	case Document:
		return pruneAbsent(vv)
	case map[string]any:
		return pruneAbsent(Document(vv))
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = pruneValue(e)
		}
		return out
	default:
		return v
	}
}

// cloneDocument deep-copies maps and slices so enrichment never aliases
// caller-owned data.
func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case Document:
		return cloneDocument(vv)
	case map[string]any:
		return cloneDocument(Document(vv))
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// isScalar reports whether v is a primitive acceptable as a scope value.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// ScalarEqual compares two scalar values with numeric widening, so a filter
// supplying int matches a scope declared with int64 or float64. Adapters use
// it for in-process scope checks on reads that bypass query predicates.
func ScalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func mergeTrace(base, extra Trace) Trace {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(Trace, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
