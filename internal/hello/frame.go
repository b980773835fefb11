package hello

import (
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"topokeeper/internal/domain"
)

// DefaultTTL is the time-to-live advertised in every hello, in seconds
const DefaultTTL = 120

// lldpMulticast is the nearest-bridge LLDP destination address
var lldpMulticast = net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}

// Hello is the decoded content of a hello frame
type Hello struct {
	SwitchID string
	Port     uint32
	TTL      uint16
}

// InterfaceID returns the id of the interface that sent the hello
func (h Hello) InterfaceID() string {
	return domain.InterfaceID(h.SwitchID, h.Port)
}

// sourceMAC derives a locally stable source address from the datapath id
func sourceMAC(switchID string) net.HardwareAddr {
	octets := strings.Split(switchID, ":")
	if len(octets) < 6 {
		return net.HardwareAddr{0x02, 0, 0, 0, 0, 0}
	}
	mac, err := net.ParseMAC(strings.Join(octets[len(octets)-6:], ":"))
	if err != nil {
		return net.HardwareAddr{0x02, 0, 0, 0, 0, 0}
	}
	return mac
}

// Encode builds an Ethernet/LLDP frame advertising the given interface
func Encode(switchID string, port uint32, ttl uint16) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       sourceMAC(switchID),
		DstMAC:       lldpMulticast,
		EthernetType: layers.EthernetTypeLinkLayerDiscovery,
	}
	lldp := &layers.LinkLayerDiscovery{
		ChassisID: layers.LLDPChassisID{
			Subtype: layers.LLDPChassisIDSubTypeLocal,
			ID:      []byte(switchID),
		},
		PortID: layers.LLDPPortID{
			Subtype: layers.LLDPPortIDSubtypeLocal,
			ID:      []byte(strconv.FormatUint(uint64(port), 10)),
		},
		TTL: ttl,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, lldp); err != nil {
		return nil, errors.Wrap(err, "serialize hello")
	}
	return buf.Bytes(), nil
}

// Decode parses a hello frame. Frames that are not LLDP or whose chassis
// and port ids do not name a valid interface are rejected.
func Decode(frame []byte) (Hello, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	layer := packet.Layer(layers.LayerTypeLinkLayerDiscovery)
	if layer == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return Hello{}, errors.Wrap(errLayer.Error(), "decode hello")
		}
		return Hello{}, errors.New("frame carries no LLDP layer")
	}
	lldp, ok := layer.(*layers.LinkLayerDiscovery)
	if !ok {
		return Hello{}, errors.New("unexpected LLDP layer type")
	}

	switchID := string(lldp.ChassisID.ID)
	if err := domain.ValidateSwitchID(switchID); err != nil {
		return Hello{}, errors.Wrap(err, "chassis id")
	}
	port, err := strconv.ParseUint(string(lldp.PortID.ID), 10, 32)
	if err != nil {
		return Hello{}, errors.Wrap(err, "port id")
	}
	return Hello{SwitchID: switchID, Port: uint32(port), TTL: lldp.TTL}, nil
}
