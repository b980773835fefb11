package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interface is a switch port. Its id is "<switch_id>:<port_number>".
type Interface struct {
	ID         string    `json:"id"`
	SwitchID   string    `json:"switch"`
	PortNumber uint32    `json:"port_number"`
	Name       string    `json:"name,omitempty"`
	Enabled    bool      `json:"enabled"`
	LLDP       bool      `json:"lldp"`
	Active     bool      `json:"active"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewInterface creates a disabled interface that is allowed to emit hellos
func NewInterface(switchID string, port uint32, name string) *Interface {
	now := time.Now().UTC()
	return &Interface{
		ID:         InterfaceID(switchID, port),
		SwitchID:   switchID,
		PortNumber: port,
		Name:       name,
		LLDP:       true,
		Metadata:   make(Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// InterfaceID builds the canonical interface id
func InterfaceID(switchID string, port uint32) string {
	return fmt.Sprintf("%s:%d", switchID, port)
}

// SplitInterfaceID returns the switch id and port number of an interface id.
// The switch id itself contains colons, so the port is the last segment.
func SplitInterfaceID(id string) (string, uint32, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, NewValidationError(fmt.Sprintf("invalid interface id %q", id))
	}
	switchID := id[:idx]
	if err := ValidateSwitchID(switchID); err != nil {
		return "", 0, NewValidationError(fmt.Sprintf("invalid interface id %q", id))
	}
	port, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, NewValidationError(fmt.Sprintf("invalid port number in interface id %q", id))
	}
	return switchID, uint32(port), nil
}

// SetActive derives the operational state from the owning switch
func (i *Interface) SetActive(switchEnabled bool) {
	i.Active = switchEnabled && i.Enabled
}
