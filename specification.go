package corral

import (
	"fmt"
	"strings"
)

// Specification names an equality predicate: a reusable, composable query
// fragment business code can pass around instead of raw filters.
type Specification interface {
	// ToFilter renders the predicate as an equality filter.
	ToFilter() Filter
	// Description is a human-readable account of the predicate, used in logs
	// and error messages.
	Description() string
}

// Where builds a single-field equality specification.
func Where(field string, value any) Specification {
	return fieldSpec{field: field, value: value}
}

// NewSpec wraps a ready-made filter with a description.
func NewSpec(description string, f Filter) Specification {
	return filterSpec{description: description, filter: f}
}

// Combine merges specifications into one: filters merge field-wise with the
// last occurrence of a key winning, descriptions join with " AND ". Combining
// a single specification is the identity in effect.
func Combine(specs ...Specification) Specification {
	return combinedSpec{specs: specs}
}

type fieldSpec struct {
	field string
	value any
}

func (s fieldSpec) ToFilter() Filter { return Filter{s.field: s.value} }
func (s fieldSpec) Description() string { return fmt.Sprintf("%s == %v", s.field, s.value) }

type filterSpec struct {
	description string
	filter      Filter
}

func (s filterSpec) ToFilter() Filter {
	out := make(Filter, len(s.filter))
	for k, v := range s.filter {
		out[k] = v
	}
	return out
}

func (s filterSpec) Description() string { return s.description }

type combinedSpec struct {
	specs []Specification
}

func (s combinedSpec) ToFilter() Filter {
	merged := Filter{}
	for _, spec := range s.specs {
		for k, v := range spec.ToFilter() {
			merged[k] = v
		}
	}
	return merged
}

func (s combinedSpec) Description() string {
	parts := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		parts = append(parts, spec.Description())
	}
	return strings.Join(parts, " AND ")
}
