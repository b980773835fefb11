package fabric

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"topokeeper/internal/domain"
	"topokeeper/internal/logging"
	"topokeeper/internal/service"
)

// Receiver handles a frame arriving on an interface
type Receiver interface {
	HandleFrame(ctx context.Context, local string, frame []byte) error
}

// SwitchUpHandler records a connecting switch
type SwitchUpHandler interface {
	HandleSwitchUp(ctx context.Context, id string, ports []service.PortInfo) error
}

// Fabric is an in-process simulation of cabled switches. A frame sent out of
// an interface is delivered synchronously to the receiver on the cabled
// peer, unless the peer's switch has a drop rule.
type Fabric struct {
	topo *Topology
	log  *logrus.Entry

	mu       sync.RWMutex
	ports    map[string]bool
	peers    map[string]string
	drops    map[string]bool
	receiver Receiver
}

// New builds a fabric from a validated topology
func New(topo *Topology) (*Fabric, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	f := &Fabric{
		topo:  topo,
		log:   logging.WithComponent("fabric"),
		ports: make(map[string]bool),
		peers: make(map[string]string),
		drops: make(map[string]bool),
	}
	for _, sw := range topo.Switches {
		for _, p := range sw.Ports {
			f.ports[domain.InterfaceID(sw.ID, p.Number)] = true
		}
	}
	for _, c := range topo.Cables {
		f.peers[c.A] = c.B
		f.peers[c.B] = c.A
	}
	return f, nil
}

// Topology returns the wiring plan
func (f *Fabric) Topology() *Topology {
	return f.topo
}

// SetReceiver attaches the frame handler for every port
func (f *Fabric) SetReceiver(r Receiver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiver = r
}

// Connect announces every switch and its ports to h, as switches do when
// they first reach the controller
func (f *Fabric) Connect(ctx context.Context, h SwitchUpHandler) error {
	for _, sw := range f.topo.Switches {
		if err := h.HandleSwitchUp(ctx, sw.ID, sw.Ports); err != nil {
			return err
		}
		f.log.WithFields(logrus.Fields{"switch": sw.ID, "ports": len(sw.Ports)}).Info("switch connected")
	}
	return nil
}

// Send delivers frame to the peer of interfaceID. Frames out of uncabled
// ports, and frames towards a switch with a drop rule, are lost silently.
func (f *Fabric) Send(ctx context.Context, interfaceID string, frame []byte) error {
	f.mu.RLock()
	known := f.ports[interfaceID]
	peer, cabled := f.peers[interfaceID]
	receiver := f.receiver
	dropped := false
	if cabled {
		if sw, _, err := domain.SplitInterfaceID(peer); err == nil {
			dropped = f.drops[sw]
		}
	}
	f.mu.RUnlock()

	if !known {
		return domain.NewNotFoundError("port", interfaceID)
	}
	if !cabled || dropped || receiver == nil {
		return nil
	}
	if err := receiver.HandleFrame(ctx, peer, frame); err != nil {
		f.log.WithError(err).WithField("interface", peer).Debug("frame not accepted")
	}
	return nil
}

// AddDropRule makes switchID discard every hello it receives
func (f *Fabric) AddDropRule(switchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops[switchID] = true
	f.log.WithField("switch", switchID).Info("drop rule added")
}

// RemoveDropRule restores hello reception on switchID
func (f *Fabric) RemoveDropRule(switchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drops, switchID)
	f.log.WithField("switch", switchID).Info("drop rule removed")
}

// Peer returns the interface cabled to interfaceID
func (f *Fabric) Peer(interfaceID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	peer, ok := f.peers[interfaceID]
	return peer, ok
}
