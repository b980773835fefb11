package domain

import (
	"fmt"
	"regexp"
	"time"
)

// dpidPattern matches an OpenFlow datapath id in colon-separated hex form
var dpidPattern = regexp.MustCompile(`^([0-9a-fA-F]{2}:){7}[0-9a-fA-F]{2}$`)

// Switch represents a forwarding device identified by its datapath id
type Switch struct {
	ID         string                `json:"id"`
	Enabled    bool                  `json:"enabled"`
	Metadata   Metadata              `json:"metadata"`
	Interfaces map[string]*Interface `json:"interfaces"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewSwitch creates a disabled switch with empty metadata
func NewSwitch(id string) *Switch {
	now := time.Now().UTC()
	return &Switch{
		ID:         id,
		Metadata:   make(Metadata),
		Interfaces: make(map[string]*Interface),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ValidateSwitchID checks the datapath id format
func ValidateSwitchID(id string) error {
	if !dpidPattern.MatchString(id) {
		return NewValidationError(fmt.Sprintf("invalid switch id %q", id))
	}
	return nil
}

// AddInterface attaches an interface record to the switch view
func (s *Switch) AddInterface(iface *Interface) {
	if s.Interfaces == nil {
		s.Interfaces = make(map[string]*Interface)
	}
	s.Interfaces[iface.ID] = iface
}
