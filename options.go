package corral

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityStrategy selects how identities are produced for created documents
// that do not carry one.
type IdentityStrategy string

const (
	// IdentityServer uses the backend's native identity generator.
	IdentityServer IdentityStrategy = "server"
	// IdentitySupplied uses the configured IDGenerator.
	IdentitySupplied IdentityStrategy = "supplied"
)

// TimestampMode selects how created/updated/deleted timestamps are stamped.
type TimestampMode string

const (
	TimestampsOff    TimestampMode = "off"
	TimestampsClock  TimestampMode = "clock"
	TimestampsServer TimestampMode = "server"
)

// TraceStrategy selects how per-write trace records are persisted.
type TraceStrategy string

const (
	// TraceLatest keeps a single record, overwritten per write.
	TraceLatest TraceStrategy = "latest"
	// TraceBounded keeps the most recent TraceLimit records. Requires a
	// backend with server-side slice-on-push; construction fails otherwise.
	TraceBounded TraceStrategy = "bounded"
	// TraceUnbounded appends one record per write without limit.
	TraceUnbounded TraceStrategy = "unbounded"
)

// Reserved default metadata keys. Metadata stored under these names is hidden
// from read results; configuring a role with an ordinary attribute name makes
// that metadata visible instead.
const (
	DefaultIDKey = "id"
	// KeyInternalID is the backend-internal identity attribute. It is never a
	// legitimate entity attribute: writes touching it are rejected and reads
	// strip it in favor of the synthesized public id.
	KeyInternalID       = "_id"
	KeyDeleted          = "_deleted"
	KeyCreatedAt        = "_createdAt"
	KeyUpdatedAt        = "_updatedAt"
	KeyDeletedAt        = "_deletedAt"
	KeyVersion          = "_version"
	KeyTrace            = "_trace"
	TraceFieldOperation = "_op"
	TraceFieldAt        = "_at"
)

// Options configures a repository. The zero value, after WithDefaults, is a
// plain unscoped repository with no metadata automation: no soft delete, no
// timestamps, no versioning, tracing armed but inert until a trace context is
// supplied.
type Options struct {
	// IDKey is the public identity attribute of the entity. Defaults to "id".
	IDKey string `yaml:"id_key" validate:"required"`
	// Identity selects the generator for created documents. Defaults to
	// server-generated.
	Identity IdentityStrategy `yaml:"identity" validate:"required,oneof=server supplied"`
	// IDGenerator produces identities under IdentitySupplied. Defaults to
	// uuid.NewString.
	IDGenerator func() string `yaml:"-"`
	// MirrorID additionally stores the identity under IDKey as an ordinary
	// attribute of the persisted document.
	MirrorID bool `yaml:"mirror_id"`

	SoftDelete    bool   `yaml:"soft_delete"`
	SoftDeleteKey string `yaml:"soft_delete_key" validate:"required"`

	Timestamps   TimestampMode `yaml:"timestamps" validate:"required,oneof=off clock server"`
	CreatedAtKey string        `yaml:"created_at_key" validate:"required"`
	UpdatedAtKey string        `yaml:"updated_at_key" validate:"required"`
	DeletedAtKey string        `yaml:"deleted_at_key" validate:"required"`
	// Clock supplies timestamps for TimestampsClock mode and for trace
	// records. Defaults to time.Now.
	Clock func() time.Time `yaml:"-"`

	Versioned  bool   `yaml:"versioned"`
	VersionKey string `yaml:"version_key" validate:"required"`

	TraceKey      string        `yaml:"trace_key" validate:"required"`
	TraceStrategy TraceStrategy `yaml:"trace_strategy" validate:"required,oneof=latest bounded unbounded"`
	TraceLimit    int           `yaml:"trace_limit" validate:"gte=0"`
	// TraceContext is merged into every write's trace record. Writes carry a
	// trace only when the merged context (construction plus per-call) is
	// non-empty.
	TraceContext Trace `yaml:"trace_context"`

	// Scope filters every read and stamps every create. Values must be scalar
	// primitives.
	Scope Scope `yaml:"scope"`

	Logger *zap.Logger `yaml:"-"`
}

var optionsValidator = validator.New()

// WithDefaults returns a copy of the options with zero-valued fields replaced
// by their defaults.
func (o Options) WithDefaults() Options {
	if o.IDKey == "" {
		o.IDKey = DefaultIDKey
	}
	if o.Identity == "" {
		o.Identity = IdentityServer
	}
	if o.IDGenerator == nil {
		o.IDGenerator = uuid.NewString
	}
	if o.SoftDeleteKey == "" {
		o.SoftDeleteKey = KeyDeleted
	}
	if o.Timestamps == "" {
		o.Timestamps = TimestampsOff
	}
	if o.CreatedAtKey == "" {
		o.CreatedAtKey = KeyCreatedAt
	}
	if o.UpdatedAtKey == "" {
		o.UpdatedAtKey = KeyUpdatedAt
	}
	if o.DeletedAtKey == "" {
		o.DeletedAtKey = KeyDeletedAt
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.VersionKey == "" {
		o.VersionKey = KeyVersion
	}
	if o.TraceKey == "" {
		o.TraceKey = KeyTrace
	}
	if o.TraceStrategy == "" {
		o.TraceStrategy = TraceLatest
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Validate checks field-level constraints. Relational constraints (key
// uniqueness, scope sanity, backend capabilities) are checked by
// ResolveConfig.
func (o Options) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return ErrConfig{Reason: fmt.Sprintf("options validation failed: %v", err)}
	}
	return nil
}
