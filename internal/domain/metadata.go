package domain

import "fmt"

// LivenessStatusKey is the link metadata key owned by the liveness detector
const LivenessStatusKey = "liveness_status"

// Metadata is a free-form map of JSON values attached to an entity
type Metadata map[string]any

// Clone returns a shallow copy so callers can mutate without aliasing
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into m, overwriting existing keys
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}

// EntityKind selects which entity table a metadata operation targets
type EntityKind string

const (
	KindSwitch    EntityKind = "switch"
	KindInterface EntityKind = "interface"
	KindLink      EntityKind = "link"
)

// ParseEntityKind maps the plural URL segment to an entity kind
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "switches", "switch":
		return KindSwitch, nil
	case "interfaces", "interface":
		return KindInterface, nil
	case "links", "link":
		return KindLink, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown entity kind %q", s))
	}
}

// ValidateOperatorMetadata rejects writes an operator may not perform
func ValidateOperatorMetadata(md Metadata) error {
	v := &ValidationBuilder{}
	v.Add(len(md) > 0, "metadata payload is empty")
	for k := range md {
		v.Add(k != "", "metadata key must not be empty")
		if k == LivenessStatusKey {
			v.AddErrorf("metadata key %q is reserved", k)
		}
	}
	return v.Build()
}
