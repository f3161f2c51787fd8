package corral

// Order is one key of a multi-field ordering.
type Order struct {
	Field string
	Desc  bool
}

// CursorOp is a comparison primitive of a cursor condition. The set is
// deliberately small: it is exactly what "strictly after this document" needs
// under orderings whose keys may be null or absent on some documents.
type CursorOp int

const (
	// CursorEq matches the boundary value; a nil value means "absent or
	// explicitly null".
	CursorEq CursorOp = iota
	// CursorGt matches values strictly greater than the boundary.
	CursorGt
	// CursorGtNull matches values greater than null/absent: present and
	// non-null.
	CursorGtNull
	// CursorLtOrNull matches values strictly less than the boundary, or
	// null/absent.
	CursorLtOrNull
	// CursorLtNull matches values less than null/absent: nothing. Backends
	// with a minimum sentinel express it as "less than minimum".
	CursorLtNull
)

// CursorCondition compares one field against a boundary document's value.
type CursorCondition struct {
	Field string
	Op    CursorOp
	Value any
}

// CursorClause is a conjunction of conditions.
type CursorClause []CursorCondition

// CursorConditions builds the filter for "strictly after doc" under order, as
// a disjunction of clauses: clause i pins the first i-1 keys to the boundary
// values and demands a strict advance on key i. The final entry of order must
// be the backend identity so the ordering is total; WithIdentityTail arranges
// that.
func CursorConditions(order []Order, doc Document) []CursorClause {
	clauses := make([]CursorClause, 0, len(order))
	for i, o := range order {
		clause := make(CursorClause, 0, i+1)
		for _, prev := range order[:i] {
			clause = append(clause, CursorCondition{Field: prev.Field, Op: CursorEq, Value: doc[prev.Field]})
		}
		clause = append(clause, strictAfter(o, doc[o.Field]))
		clauses = append(clauses, clause)
	}
	return clauses
}

func strictAfter(o Order, boundary any) CursorCondition {
	cond := CursorCondition{Field: o.Field, Value: boundary}
	switch {
	case !o.Desc && boundary != nil:
		cond.Op = CursorGt
	case !o.Desc:
		cond.Op = CursorGtNull
	case boundary != nil:
		cond.Op = CursorLtOrNull
	default:
		cond.Op = CursorLtNull
	}
	return cond
}

// WithIdentityTail appends the backend identity field as the final tiebreaker
// unless the ordering already ends with it. The tiebreaker inherits the
// direction of the previous tail, ascending when the ordering is empty.
func WithIdentityTail(order []Order, idField string) []Order {
	if n := len(order); n > 0 && order[n-1].Field == idField {
		return order
	}
	desc := false
	if n := len(order); n > 0 {
		desc = order[n-1].Desc
	}
	out := make([]Order, len(order), len(order)+1)
	copy(out, order)
	return append(out, Order{Field: idField, Desc: desc})
}
