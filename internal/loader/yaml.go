package loader

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"topokeeper/internal/domain"
	"topokeeper/internal/fabric"
	"topokeeper/internal/service"
)

// TopologyYAML represents the fabric topology file structure
type TopologyYAML struct {
	Version     string                 `yaml:"version"`
	Description string                 `yaml:"description,omitempty"`
	Switches    map[string]*SwitchYAML `yaml:"switches"`
	Links       []LinkYAML             `yaml:"links,omitempty"`
}

// SwitchYAML represents a switch keyed by datapath id
type SwitchYAML struct {
	Description string     `yaml:"description,omitempty"`
	Local       bool       `yaml:"local,omitempty"`
	Ports       []PortYAML `yaml:"ports"`
}

// PortYAML represents a switch port
type PortYAML struct {
	Number      uint32 `yaml:"number"`
	Name        string `yaml:"name,omitempty"`
	ConnectedTo string `yaml:"connected_to,omitempty"`
}

// LinkYAML represents an explicit cable between two interface ids
type LinkYAML struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// LoadYAML loads a fabric topology from a YAML file
func LoadYAML(path string) (*fabric.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseYAML(data)
}

// ParseYAML parses a fabric topology from YAML bytes
func ParseYAML(data []byte) (*fabric.Topology, error) {
	var yamlData TopologyYAML
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	topo := convertYAMLToTopology(&yamlData)
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

func convertYAMLToTopology(y *TopologyYAML) *fabric.Topology {
	topo := &fabric.Topology{}

	ids := make([]string, 0, len(y.Switches))
	for id := range y.Switches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cabled := make(map[string]bool)
	addCable := func(a, b string) {
		key := domain.LinkID(a, b)
		if cabled[key] {
			return
		}
		cabled[key] = true
		topo.Cables = append(topo.Cables, fabric.Cable{A: a, B: b})
	}

	for _, id := range ids {
		s := y.Switches[id]
		sw := fabric.SwitchSpec{ID: id}
		if s != nil {
			for _, p := range s.Ports {
				sw.Ports = append(sw.Ports, service.PortInfo{Number: p.Number, Name: p.Name})
				if p.ConnectedTo != "" {
					addCable(domain.InterfaceID(id, p.Number), p.ConnectedTo)
				}
			}
			if s.Local {
				sw.Ports = append(sw.Ports, service.PortInfo{Number: fabric.LocalPort, Name: "local"})
			}
		}
		topo.Switches = append(topo.Switches, sw)
	}

	// Explicit links after port connections
	for _, l := range y.Links {
		addCable(l.A, l.B)
	}

	return topo
}

// ExportYAML exports a fabric topology to YAML format. Cables are written
// as explicit links.
func ExportYAML(topo *fabric.Topology) ([]byte, error) {
	yamlData := &TopologyYAML{
		Version:  "1",
		Switches: make(map[string]*SwitchYAML),
	}

	for _, sw := range topo.Switches {
		s := &SwitchYAML{}
		for _, p := range sw.Ports {
			if p.Number == fabric.LocalPort {
				s.Local = true
				continue
			}
			s.Ports = append(s.Ports, PortYAML{Number: p.Number, Name: p.Name})
		}
		yamlData.Switches[sw.ID] = s
	}

	for _, c := range topo.Cables {
		yamlData.Links = append(yamlData.Links, LinkYAML{A: c.A, B: c.B})
	}

	return yaml.Marshal(yamlData)
}
