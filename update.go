package corral

// Update is the caller's half of a write: attribute assignments and removals.
// Everything else on a stored document (timestamps, version, trace, scope) is
// maintained by the repository and rejected here.
type Update struct {
	Set   Document
	Unset []string
}

// WriteKind identifies the lifecycle transition a write performs. Its string
// form is recorded in trace records.
type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// PushSpec describes a server-side list append.
type PushSpec struct {
	Values []any
	// KeepLast caps the list to its most recent N elements after the append.
	// Zero keeps everything.
	KeepLast int
}

// WriteOp is the backend-neutral write descriptor the enrichment pipeline
// produces and adapters translate. Sections mirror the update operators both
// backends evaluate server-side:
//
//	SetOnInsert  applied only when the operation creates the document
//	Set          applied unconditionally
//	Inc          numeric delta
//	Unset        attribute removal
//	Push         list append, optionally capped
//	CurrentDate  ask the server to stamp the field with its own clock
type WriteOp struct {
	Kind        WriteKind
	SetOnInsert Document
	Set         Document
	Inc         map[string]int64
	Unset       []string
	Push        map[string]PushSpec
	CurrentDate []string
}

// IsEmpty reports whether the descriptor carries no effect at all, letting
// adapters skip the backend round-trip.
func (op WriteOp) IsEmpty() bool {
	return len(op.SetOnInsert) == 0 && len(op.Set) == 0 && len(op.Inc) == 0 &&
		len(op.Unset) == 0 && len(op.Push) == 0 && len(op.CurrentDate) == 0
}

func (op *WriteOp) setOnInsert(key string, v any) {
	if op.SetOnInsert == nil {
		op.SetOnInsert = Document{}
	}
	op.SetOnInsert[key] = v
}

func (op *WriteOp) set(key string, v any) {
	if op.Set == nil {
		op.Set = Document{}
	}
	op.Set[key] = v
}

func (op *WriteOp) inc(key string, delta int64) {
	if op.Inc == nil {
		op.Inc = map[string]int64{}
	}
	op.Inc[key] += delta
}

func (op *WriteOp) push(key string, spec PushSpec) {
	if op.Push == nil {
		op.Push = map[string]PushSpec{}
	}
	op.Push[key] = spec
}

func (op *WriteOp) currentDate(keys ...string) {
	op.CurrentDate = append(op.CurrentDate, keys...)
}
