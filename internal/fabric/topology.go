package fabric

import (
	"fmt"
	"sort"

	"topokeeper/internal/domain"
	"topokeeper/internal/service"
)

// LocalPort is the OpenFlow reserved port number of a switch's local interface
const LocalPort uint32 = 4294967294

// SwitchSpec describes a simulated switch and its ports
type SwitchSpec struct {
	ID    string
	Ports []service.PortInfo
}

// Cable connects two interfaces by id
type Cable struct {
	A string
	B string
}

// Topology is the wiring plan of the simulated fabric
type Topology struct {
	Switches []SwitchSpec
	Cables   []Cable
}

// Validate checks switch ids, that every cable end is a declared port and
// that no port is cabled twice
func (t *Topology) Validate() error {
	v := &domain.ValidationBuilder{}
	ports := make(map[string]bool)
	seen := make(map[string]bool)
	for _, sw := range t.Switches {
		if err := domain.ValidateSwitchID(sw.ID); err != nil {
			v.AddErrorf("invalid switch id %q", sw.ID)
			continue
		}
		if seen[sw.ID] {
			v.AddErrorf("switch %s declared twice", sw.ID)
		}
		seen[sw.ID] = true
		for _, p := range sw.Ports {
			ports[domain.InterfaceID(sw.ID, p.Number)] = true
		}
	}

	cabled := make(map[string]bool)
	for _, c := range t.Cables {
		for _, end := range []string{c.A, c.B} {
			if !ports[end] {
				v.AddErrorf("cable end %s is not a declared port", end)
			}
			if cabled[end] {
				v.AddErrorf("port %s is cabled more than once", end)
			}
			cabled[end] = true
		}
		if c.A == c.B {
			v.AddErrorf("cable %s connects a port to itself", c.A)
		}
	}
	return v.Build()
}

// DefaultTopology returns three switches wired in a triangle:
// s1:3-s2:2, s2:3-s3:2 and s1:4-s3:3
func DefaultTopology() *Topology {
	mk := func(n, ports int) SwitchSpec {
		id := fmt.Sprintf("00:00:00:00:00:00:00:%02x", n)
		sw := SwitchSpec{ID: id}
		for p := 1; p <= ports; p++ {
			sw.Ports = append(sw.Ports, service.PortInfo{Number: uint32(p), Name: fmt.Sprintf("s%d-eth%d", n, p)})
		}
		sw.Ports = append(sw.Ports, service.PortInfo{Number: LocalPort, Name: fmt.Sprintf("s%d", n)})
		return sw
	}
	s1, s2, s3 := mk(1, 4), mk(2, 3), mk(3, 3)
	return &Topology{
		Switches: []SwitchSpec{s1, s2, s3},
		Cables: []Cable{
			{A: domain.InterfaceID(s1.ID, 3), B: domain.InterfaceID(s2.ID, 2)},
			{A: domain.InterfaceID(s2.ID, 3), B: domain.InterfaceID(s3.ID, 2)},
			{A: domain.InterfaceID(s1.ID, 4), B: domain.InterfaceID(s3.ID, 3)},
		},
	}
}

// SwitchIDs returns the declared switch ids in order
func (t *Topology) SwitchIDs() []string {
	ids := make([]string, 0, len(t.Switches))
	for _, sw := range t.Switches {
		ids = append(ids, sw.ID)
	}
	sort.Strings(ids)
	return ids
}
