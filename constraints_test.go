package corral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWrite(t *testing.T) {
	cfg := resolve(t, Options{
		SoftDelete: true,
		Timestamps: TimestampsClock,
		Scope:      Scope{"tenant": "acme"},
	})

	t.Run("Should pass a plain update", func(t *testing.T) {
		assert.NoError(t, cfg.CheckWrite(Update{Set: Document{"name": "ok"}, Unset: []string{"age"}}))
	})

	t.Run("Should name every readonly offender at once", func(t *testing.T) {
		err := cfg.CheckWrite(Update{Set: Document{
			KeyInternalID: "x",
			"tenant":      "bar",
			KeyCreatedAt:  "2020-01-01",
			"name":        "ok",
		}})
		require.Error(t, err)
		var violation ErrReadonlyViolation
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, []string{KeyCreatedAt, KeyInternalID, "tenant"}, violation.Fields)
	})

	t.Run("Should reject readonly names in unset", func(t *testing.T) {
		err := cfg.CheckWrite(Update{Unset: []string{KeyDeleted, "name"}})
		assert.True(t, IsReadonlyViolation(err))
	})

	t.Run("Should reject set and unset overlap before readonly checks", func(t *testing.T) {
		err := cfg.CheckWrite(Update{Set: Document{"name": "a"}, Unset: []string{"name"}})
		assert.True(t, IsSetUnsetOverlap(err))
	})
}

func TestPrepareCreate(t *testing.T) {
	serverID := func() string { return "native-1" }

	t.Run("Should honor a supplied identity under the id key", func(t *testing.T) {
		cfg := resolve(t, Options{})
		id, body, err := cfg.PrepareCreate(Document{"id": "user-7", "name": "X"}, serverID)
		require.NoError(t, err)
		assert.Equal(t, "user-7", id)
		assert.NotContains(t, body, "id", "the identity lives in the backend id, not the body")
	})

	t.Run("Should generate a native identity under the server strategy", func(t *testing.T) {
		cfg := resolve(t, Options{})
		id, _, err := cfg.PrepareCreate(Document{"name": "X"}, serverID)
		require.NoError(t, err)
		assert.Equal(t, "native-1", id)
	})

	t.Run("Should use the configured generator under the supplied strategy", func(t *testing.T) {
		cfg := resolve(t, Options{
			Identity:    IdentitySupplied,
			IDGenerator: func() string { return "gen-1" },
		})
		id, _, err := cfg.PrepareCreate(Document{"name": "X"}, serverID)
		require.NoError(t, err)
		assert.Equal(t, "gen-1", id)
	})

	t.Run("Should mirror the identity when configured", func(t *testing.T) {
		cfg := resolve(t, Options{MirrorID: true})
		id, body, err := cfg.PrepareCreate(Document{"name": "X"}, serverID)
		require.NoError(t, err)
		assert.Equal(t, id, body["id"])
	})

	t.Run("Should strip caller-supplied managed attributes", func(t *testing.T) {
		cfg := resolve(t, Options{Versioned: true, SoftDelete: true})
		_, body, err := cfg.PrepareCreate(Document{
			"name":     "X",
			KeyVersion: int64(99),
			KeyDeleted: true,
			KeyTrace:   "forged",
		}, serverID)
		require.NoError(t, err)
		assert.Equal(t, Document{"name": "X"}, body)
	})

	t.Run("Should stamp the scope onto the body", func(t *testing.T) {
		cfg := resolve(t, Options{Scope: Scope{"tenant": "acme"}})
		_, body, err := cfg.PrepareCreate(Document{"name": "X"}, serverID)
		require.NoError(t, err)
		assert.Equal(t, "acme", body["tenant"])
	})

	t.Run("Should accept a matching supplied scope value", func(t *testing.T) {
		cfg := resolve(t, Options{Scope: Scope{"tenant": "acme"}})
		_, _, err := cfg.PrepareCreate(Document{"tenant": "acme"}, serverID)
		assert.NoError(t, err)
	})

	t.Run("Should reject a mismatched scope value", func(t *testing.T) {
		cfg := resolve(t, Options{Scope: Scope{"tenant": "acme"}})
		_, _, err := cfg.PrepareCreate(Document{"tenant": "foo"}, serverID)
		assert.True(t, IsReadonlyViolation(err))
	})

	t.Run("Should drop Absent attributes before storage", func(t *testing.T) {
		cfg := resolve(t, Options{})
		_, body, err := cfg.PrepareCreate(Document{"name": "X", "age": Absent, "bio": nil}, serverID)
		require.NoError(t, err)
		assert.NotContains(t, body, "age")
		assert.Contains(t, body, "bio", "explicit null persists")
	})
}

func TestGateFilter(t *testing.T) {
	cfg := resolve(t, Options{Scope: Scope{"tenant": "acme"}})

	t.Run("Should intersect the filter with the scope", func(t *testing.T) {
		gated, empty, err := cfg.GateFilter(Filter{"active": true}, false)
		require.NoError(t, err)
		assert.False(t, empty)
		assert.Equal(t, Filter{"active": true, "tenant": "acme"}, gated)
	})

	t.Run("Should pass a filter restating the scope", func(t *testing.T) {
		gated, empty, err := cfg.GateFilter(Filter{"tenant": "acme"}, false)
		require.NoError(t, err)
		assert.False(t, empty)
		assert.Equal(t, Filter{"tenant": "acme"}, gated)
	})

	t.Run("Should answer a contradicting filter statically empty by default", func(t *testing.T) {
		_, empty, err := cfg.GateFilter(Filter{"tenant": "foo"}, false)
		require.NoError(t, err)
		assert.True(t, empty)
	})

	t.Run("Should fail a contradicting filter under the error policy", func(t *testing.T) {
		_, _, err := cfg.GateFilter(Filter{"tenant": "foo"}, true)
		require.Error(t, err)
		var breach ErrScopeBreach
		require.ErrorAs(t, err, &breach)
		assert.Equal(t, "tenant", breach.Field)
		assert.Equal(t, "acme", breach.Want)
		assert.Equal(t, "foo", breach.Got)
	})

	t.Run("Should widen numerics when matching scope values", func(t *testing.T) {
		numCfg := resolve(t, Options{Scope: Scope{"region": int64(7)}})
		_, empty, err := numCfg.GateFilter(Filter{"region": 7}, false)
		require.NoError(t, err)
		assert.False(t, empty)
	})
}
