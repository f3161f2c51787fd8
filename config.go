package corral

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Capabilities declares what a backend can do server-side. Adapters supply it
// at construction so configuration that a backend cannot honor fails fast.
type Capabilities struct {
	// SliceOnPush is true when the backend can cap a list while appending to
	// it in the same server-side operation. Without it the bounded trace
	// strategy is rejected.
	SliceOnPush bool
}

// Config is the resolved, immutable repository configuration. It is computed
// once by ResolveConfig and shared by every operation; instances are safe for
// concurrent use.
type Config struct {
	IDKey    string
	Identity IdentityStrategy
	MirrorID bool

	SoftDelete    bool
	SoftDeleteKey string

	Timestamps   TimestampMode
	CreatedAtKey string
	UpdatedAtKey string
	DeletedAtKey string

	Versioned  bool
	VersionKey string

	TraceKey      string
	TraceStrategy TraceStrategy
	TraceLimit    int
	TraceContext  Trace

	Scope  Scope
	Logger *zap.Logger

	clock     func() time.Time
	generator func() string
	managed   map[string]struct{}
	readonly  map[string]struct{}
}

// reservedMetaKeys are hidden on every read and rejected on every write,
// whether or not the corresponding role is enabled. They are never legitimate
// entity attributes.
var reservedMetaKeys = []string{
	KeyInternalID, KeyDeleted, KeyCreatedAt, KeyUpdatedAt, KeyDeletedAt, KeyVersion, KeyTrace,
}

// ResolveConfig normalizes options against the backend capabilities. It
// computes the managed, readonly, and hidden attribute sets and rejects
// configurations that could corrupt managed metadata:
//
//   - duplicate names across id/timestamp/version/soft-delete/trace keys
//   - a custom metadata key reusing another role's reserved default
//   - a managed name appearing in the scope
//   - non-scalar scope values
//   - a bounded trace strategy without a positive limit
//   - a bounded trace strategy on a backend without slice-on-push
func ResolveConfig(opts Options, caps Capabilities) (*Config, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.TraceStrategy == TraceBounded {
		if opts.TraceLimit <= 0 {
			return nil, ErrConfig{Field: "trace_limit", Reason: "bounded trace strategy requires a positive limit"}
		}
		if !caps.SliceOnPush {
			return nil, ErrConfig{Field: "trace_strategy", Reason: "backend cannot cap lists on append; use latest or unbounded"}
		}
	}

	type role struct {
		field    string
		key      string
		reserved string // the role's own default name
	}
	roles := []role{
		{"id_key", opts.IDKey, DefaultIDKey},
		{"trace_key", opts.TraceKey, KeyTrace},
	}
	if opts.SoftDelete {
		roles = append(roles, role{"soft_delete_key", opts.SoftDeleteKey, KeyDeleted})
	}
	if opts.Timestamps != TimestampsOff {
		roles = append(roles,
			role{"created_at_key", opts.CreatedAtKey, KeyCreatedAt},
			role{"updated_at_key", opts.UpdatedAtKey, KeyUpdatedAt},
			role{"deleted_at_key", opts.DeletedAtKey, KeyDeletedAt},
		)
	}
	if opts.Versioned {
		roles = append(roles, role{"version_key", opts.VersionKey, KeyVersion})
	}

	seen := make(map[string]string, len(roles))
	reserved := make(map[string]struct{}, len(reservedMetaKeys))
	for _, k := range reservedMetaKeys {
		reserved[k] = struct{}{}
	}
	for _, r := range roles {
		if prev, dup := seen[r.key]; dup {
			return nil, ErrConfig{Field: r.field, Reason: fmt.Sprintf("key '%s' already used by %s", r.key, prev)}
		}
		seen[r.key] = r.field
		if _, res := reserved[r.key]; res && r.key != r.reserved {
			return nil, ErrConfig{Field: r.field, Reason: fmt.Sprintf("'%s' is reserved for another metadata role", r.key)}
		}
	}

	managed := make(map[string]struct{}, len(roles)+len(reservedMetaKeys))
	managed[opts.IDKey] = struct{}{}
	for _, k := range reservedMetaKeys {
		managed[k] = struct{}{}
	}
	for _, r := range roles {
		managed[r.key] = struct{}{}
	}

	readonly := make(map[string]struct{}, len(managed)+len(opts.Scope))
	for k := range managed {
		readonly[k] = struct{}{}
	}
	for k, v := range opts.Scope {
		if _, bad := managed[k]; bad {
			return nil, ErrConfig{Field: "scope", Reason: fmt.Sprintf("scope key '%s' is a managed attribute", k)}
		}
		if !isScalar(v) {
			return nil, ErrConfig{Field: "scope", Reason: fmt.Sprintf("scope value for '%s' must be a scalar primitive", k)}
		}
		readonly[k] = struct{}{}
	}

	return &Config{
		IDKey:         opts.IDKey,
		Identity:      opts.Identity,
		MirrorID:      opts.MirrorID,
		SoftDelete:    opts.SoftDelete,
		SoftDeleteKey: opts.SoftDeleteKey,
		Timestamps:    opts.Timestamps,
		CreatedAtKey:  opts.CreatedAtKey,
		UpdatedAtKey:  opts.UpdatedAtKey,
		DeletedAtKey:  opts.DeletedAtKey,
		Versioned:     opts.Versioned,
		VersionKey:    opts.VersionKey,
		TraceKey:      opts.TraceKey,
		TraceStrategy: opts.TraceStrategy,
		TraceLimit:    opts.TraceLimit,
		TraceContext:  Trace(cloneDocument(Document(opts.TraceContext))),
		Scope:         opts.Scope,
		Logger:        opts.Logger,
		clock:         opts.Clock,
		generator:     opts.IDGenerator,
		managed:       managed,
		readonly:      readonly,
	}, nil
}

// Now reads the configured clock.
func (c *Config) Now() time.Time { return c.clock() }

// NewID produces an identity under the supplied strategy.
func (c *Config) NewID() string { return c.generator() }

// IsManaged reports whether key is maintained by the repository and therefore
// stripped from creates and rejected on updates.
func (c *Config) IsManaged(key string) bool {
	_, ok := c.managed[key]
	return ok
}

// IsReadonly reports whether key may not be set or unset by callers. The
// readonly set is the managed set plus the scope keys.
func (c *Config) IsReadonly(key string) bool {
	_, ok := c.readonly[key]
	return ok
}

// IsHidden reports whether key is stripped from read results. Only metadata
// stored under reserved default names is hidden; custom-named metadata is an
// ordinary visible attribute.
func (c *Config) IsHidden(key string) bool {
	for _, k := range reservedMetaKeys {
		if k == key {
			return true
		}
	}
	return false
}

// HiddenKeys returns the hidden metadata keys in a stable order, for backends
// that can exclude them server-side.
func (c *Config) HiddenKeys() []string {
	out := make([]string, len(reservedMetaKeys))
	copy(out, reservedMetaKeys)
	sort.Strings(out)
	return out
}

// TimestampsEnabled reports whether any timestamp stamping is configured.
func (c *Config) TimestampsEnabled() bool { return c.Timestamps != TimestampsOff }
