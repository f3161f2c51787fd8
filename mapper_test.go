package corral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapOut(t *testing.T) {
	cfg := resolve(t, Options{
		SoftDelete: true,
		Timestamps: TimestampsClock,
		Versioned:  true,
	})
	raw := Document{
		"name":       "X",
		"age":        30,
		KeyDeleted:   false,
		KeyCreatedAt: "t0",
		KeyUpdatedAt: "t1",
		KeyVersion:   int64(3),
		KeyTrace:     Document{"actor": "svc"},
	}

	t.Run("Should synthesize the id and drop hidden metadata", func(t *testing.T) {
		out := cfg.MapOut(raw, "abc", nil)
		assert.Equal(t, Document{"id": "abc", "name": "X", "age": 30}, out)
	})

	t.Run("Should keep only projected attributes", func(t *testing.T) {
		out := cfg.MapOut(raw, "abc", []string{"name"})
		assert.Equal(t, Document{"name": "X"}, out)
	})

	t.Run("Should synthesize the id only when projected", func(t *testing.T) {
		out := cfg.MapOut(raw, "abc", []string{"id", "age"})
		assert.Equal(t, Document{"id": "abc", "age": 30}, out)
	})

	t.Run("Should not leak hidden keys through a projection", func(t *testing.T) {
		out := cfg.MapOut(raw, "abc", []string{KeyVersion, "name"})
		assert.Equal(t, Document{"name": "X"}, out)
	})

	t.Run("Should skip projected attributes missing from the document", func(t *testing.T) {
		out := cfg.MapOut(raw, "abc", []string{"name", "nickname"})
		assert.Equal(t, Document{"name": "X"}, out)
	})
}

func TestMapOut_VisibleCustomMetadata(t *testing.T) {
	cfg := resolve(t, Options{Versioned: true, VersionKey: "revision"})
	raw := Document{"name": "X", "revision": int64(4)}

	out := cfg.MapOut(raw, "abc", nil)
	require.Contains(t, out, "revision", "custom-named metadata is a visible attribute")
	assert.Equal(t, int64(4), out["revision"])

	projected := cfg.MapOut(raw, "abc", []string{"revision"})
	assert.Equal(t, Document{"revision": int64(4)}, projected)
}
