package corral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns 2020-01-01T00:00:00Z and advances one second per call.
func steppingClock() func() time.Time {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	return func() time.Time {
		now := t0.Add(time.Duration(calls) * time.Second)
		calls++
		return now
	}
}

func resolve(t *testing.T, opts Options) *Config {
	t.Helper()
	cfg, err := ResolveConfig(opts, Capabilities{SliceOnPush: true})
	require.NoError(t, err)
	return cfg
}

func TestBuildWriteOp_UserSeed(t *testing.T) {
	cfg := resolve(t, Options{})

	t.Run("Should put create assignments under SetOnInsert", func(t *testing.T) {
		op := cfg.BuildWriteOp(WriteCreate, Update{Set: Document{"name": "X"}}, nil)
		assert.Equal(t, Document{"name": "X"}, op.SetOnInsert)
		assert.Empty(t, op.Set)
	})

	t.Run("Should put update assignments under Set and Unset", func(t *testing.T) {
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"name": "Y"}, Unset: []string{"age"}}, nil)
		assert.Equal(t, Document{"name": "Y"}, op.Set)
		assert.Equal(t, []string{"age"}, op.Unset)
		assert.Empty(t, op.SetOnInsert)
	})

	t.Run("Should strip Absent values at depth", func(t *testing.T) {
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{
			"keep":   "v",
			"drop":   Absent,
			"nested": Document{"inner": Absent, "null": nil},
		}}, nil)
		assert.Equal(t, Document{"keep": "v", "nested": Document{"null": nil}}, op.Set)
	})

	t.Run("Should produce an empty descriptor from an empty update", func(t *testing.T) {
		op := cfg.BuildWriteOp(WriteUpdate, Update{}, nil)
		assert.True(t, op.IsEmpty())
	})
}

func TestBuildWriteOp_Timestamps(t *testing.T) {
	t.Run("Should seed createdAt and updatedAt on create", func(t *testing.T) {
		cfg := resolve(t, Options{Timestamps: TimestampsClock, Clock: steppingClock()})
		t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

		op := cfg.BuildWriteOp(WriteCreate, Update{}, nil)
		assert.Equal(t, t0, op.SetOnInsert[KeyCreatedAt])
		assert.Equal(t, t0, op.SetOnInsert[KeyUpdatedAt])
		assert.Empty(t, op.CurrentDate)
	})

	t.Run("Should stamp only updatedAt on update", func(t *testing.T) {
		cfg := resolve(t, Options{Timestamps: TimestampsClock, Clock: steppingClock()})
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"name": "Y"}}, nil)
		assert.Contains(t, op.Set, KeyUpdatedAt)
		assert.NotContains(t, op.Set, KeyCreatedAt)
	})

	t.Run("Should stamp updatedAt and deletedAt with one instant on delete", func(t *testing.T) {
		cfg := resolve(t, Options{Timestamps: TimestampsClock, Clock: steppingClock()})
		op := cfg.BuildWriteOp(WriteDelete, Update{}, nil)
		assert.Equal(t, op.Set[KeyUpdatedAt], op.Set[KeyDeletedAt])
	})

	t.Run("Should request server stamping in server mode", func(t *testing.T) {
		cfg := resolve(t, Options{Timestamps: TimestampsServer, Clock: steppingClock()})

		create := cfg.BuildWriteOp(WriteCreate, Update{}, nil)
		assert.ElementsMatch(t, []string{KeyCreatedAt, KeyUpdatedAt}, create.CurrentDate)
		// Concrete values are still seeded for adapters that must fold the
		// server stamp into an insert-only write.
		assert.Contains(t, create.SetOnInsert, KeyCreatedAt)

		update := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"n": 1}}, nil)
		assert.Equal(t, []string{KeyUpdatedAt}, update.CurrentDate)
		assert.NotContains(t, update.Set, KeyUpdatedAt)

		del := cfg.BuildWriteOp(WriteDelete, Update{}, nil)
		assert.ElementsMatch(t, []string{KeyUpdatedAt, KeyDeletedAt}, del.CurrentDate)
	})
}

func TestBuildWriteOp_Version(t *testing.T) {
	cfg := resolve(t, Options{Versioned: true})

	t.Run("Should seed version one on create", func(t *testing.T) {
		op := cfg.BuildWriteOp(WriteCreate, Update{}, nil)
		assert.Equal(t, int64(1), op.SetOnInsert[KeyVersion])
	})

	t.Run("Should bump by one on update and delete", func(t *testing.T) {
		assert.Equal(t, int64(1), cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"n": 1}}, nil).Inc[KeyVersion])
		assert.Equal(t, int64(1), cfg.BuildWriteOp(WriteDelete, Update{}, nil).Inc[KeyVersion])
	})
}

func TestBuildWriteOp_Trace(t *testing.T) {
	t.Run("Should be inert without any trace context", func(t *testing.T) {
		cfg := resolve(t, Options{})
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"n": 1}}, nil)
		assert.NotContains(t, op.Set, KeyTrace)
		assert.Empty(t, op.Push)
	})

	t.Run("Should overwrite a single record under latest", func(t *testing.T) {
		cfg := resolve(t, Options{TraceContext: Trace{"actor": "svc"}, Clock: steppingClock()})
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"n": 1}}, nil)

		record, ok := op.Set[KeyTrace].(Document)
		require.True(t, ok)
		assert.Equal(t, "svc", record["actor"])
		assert.Equal(t, "update", record[TraceFieldOperation])
		assert.IsType(t, time.Time{}, record[TraceFieldAt])
	})

	t.Run("Should push capped under bounded", func(t *testing.T) {
		cfg := resolve(t, Options{
			TraceStrategy: TraceBounded,
			TraceLimit:    10,
			TraceContext:  Trace{"actor": "svc"},
		})
		op := cfg.BuildWriteOp(WriteDelete, Update{}, nil)
		spec := op.Push[KeyTrace]
		require.Len(t, spec.Values, 1)
		assert.Equal(t, 10, spec.KeepLast)
		record := spec.Values[0].(Document)
		assert.Equal(t, "delete", record[TraceFieldOperation])
	})

	t.Run("Should push without a cap under unbounded", func(t *testing.T) {
		cfg := resolve(t, Options{TraceStrategy: TraceUnbounded, TraceContext: Trace{"actor": "svc"}})
		op := cfg.BuildWriteOp(WriteCreate, Update{}, nil)
		assert.Zero(t, op.Push[KeyTrace].KeepLast)
	})

	t.Run("Should enable tracing for a call merging onto an empty base", func(t *testing.T) {
		cfg := resolve(t, Options{})
		op := cfg.BuildWriteOp(WriteCreate, Update{}, Trace{"request_id": "r1"})
		record, ok := op.Set[KeyTrace].(Document)
		require.True(t, ok)
		assert.Equal(t, "r1", record["request_id"])
	})

	t.Run("Should let the per-call context win over the base on collision", func(t *testing.T) {
		cfg := resolve(t, Options{TraceContext: Trace{"actor": "base", "env": "prod"}})
		op := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"n": 1}}, Trace{"actor": "call"})
		record := op.Set[KeyTrace].(Document)
		assert.Equal(t, "call", record["actor"])
		assert.Equal(t, "prod", record["env"])
	})
}

// Scenario: version and timestamp monotonicity across a document lifecycle
// under a stepping clock.
func TestBuildWriteOp_LifecycleMonotonicity(t *testing.T) {
	cfg := resolve(t, Options{
		Timestamps: TimestampsClock,
		Versioned:  true,
		SoftDelete: true,
		Clock:      steppingClock(),
	})
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	create := cfg.BuildWriteOp(WriteCreate, Update{Set: Document{"name": "X"}}, nil)
	assert.Equal(t, int64(1), create.SetOnInsert[KeyVersion])
	assert.Equal(t, t0, create.SetOnInsert[KeyCreatedAt])
	assert.Equal(t, t0, create.SetOnInsert[KeyUpdatedAt])

	update := cfg.BuildWriteOp(WriteUpdate, Update{Set: Document{"name": "Y"}}, nil)
	assert.Equal(t, int64(1), update.Inc[KeyVersion])
	assert.Equal(t, t0.Add(time.Second), update.Set[KeyUpdatedAt])
	assert.NotContains(t, update.Set, KeyCreatedAt)

	del := cfg.BuildWriteOp(WriteDelete, Update{}, nil)
	assert.Equal(t, int64(1), del.Inc[KeyVersion])
	assert.Equal(t, t0.Add(2*time.Second), del.Set[KeyUpdatedAt])
	assert.Equal(t, del.Set[KeyUpdatedAt], del.Set[KeyDeletedAt])
}
