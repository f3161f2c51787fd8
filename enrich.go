package corral

// The enrichment pipeline turns a caller's partial update into the complete
// write descriptor for one lifecycle transition. Layers run in a fixed order:
// user data seeds the descriptor, then timestamps, then the version counter,
// then the trace record. Trace runs last so it observes the final write kind.
// Every layer is a pure function of the resolved configuration; nothing here
// touches the backend.

// BuildWriteOp assembles the enriched descriptor for kind. For WriteCreate the
// caller's assignments land in SetOnInsert so a colliding document is never
// modified; for updates and deletes they land in Set/Unset. merge is the
// per-call trace context, combined with the construction-time context.
func (c *Config) BuildWriteOp(kind WriteKind, u Update, merge Trace) WriteOp {
	op := WriteOp{Kind: kind}

	seed := pruneAbsent(u.Set)
	switch kind {
	case WriteCreate:
		if len(seed) > 0 {
			op.SetOnInsert = seed
		}
	default:
		if len(seed) > 0 {
			op.Set = seed
		}
		if len(u.Unset) > 0 {
			op.Unset = append(op.Unset, u.Unset...)
		}
	}

	c.applyTimestamps(&op, kind)
	c.applyVersion(&op, kind)
	c.applyTrace(&op, kind, merge)
	return op
}

func (c *Config) applyTimestamps(op *WriteOp, kind WriteKind) {
	if c.Timestamps == TimestampsOff {
		return
	}
	now := c.Now()
	server := c.Timestamps == TimestampsServer
	switch kind {
	case WriteCreate:
		// Seed concrete values even in server mode: an adapter that cannot
		// combine an insert-only section with a server stamp falls back to
		// the seeded clock value.
		op.setOnInsert(c.CreatedAtKey, now)
		op.setOnInsert(c.UpdatedAtKey, now)
		if server {
			op.currentDate(c.CreatedAtKey, c.UpdatedAtKey)
		}
	case WriteUpdate:
		if server {
			op.currentDate(c.UpdatedAtKey)
		} else {
			op.set(c.UpdatedAtKey, now)
		}
	case WriteDelete:
		if server {
			op.currentDate(c.UpdatedAtKey, c.DeletedAtKey)
		} else {
			op.set(c.UpdatedAtKey, now)
			op.set(c.DeletedAtKey, now)
		}
	}
}

func (c *Config) applyVersion(op *WriteOp, kind WriteKind) {
	if !c.Versioned {
		return
	}
	if kind == WriteCreate {
		op.setOnInsert(c.VersionKey, int64(1))
		return
	}
	op.inc(c.VersionKey, 1)
}

func (c *Config) applyTrace(op *WriteOp, kind WriteKind, merge Trace) {
	merged := mergeTrace(c.TraceContext, merge)
	if len(merged) == 0 {
		return
	}
	record := make(Document, len(merged)+2)
	for k, v := range merged {
		record[k] = v
	}
	record[TraceFieldOperation] = string(kind)
	// A server clock cannot stamp a value inside an appended element, so the
	// trace timestamp is always the client clock.
	record[TraceFieldAt] = c.Now()

	switch c.TraceStrategy {
	case TraceBounded:
		op.push(c.TraceKey, PushSpec{Values: []any{record}, KeepLast: c.TraceLimit})
	case TraceUnbounded:
		op.push(c.TraceKey, PushSpec{Values: []any{record}})
	default:
		op.set(c.TraceKey, record)
	}
}
