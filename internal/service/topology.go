package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"topokeeper/internal/domain"
	"topokeeper/internal/logging"
	"topokeeper/internal/repository"
)

const tracerName = "topokeeper/service"

// PortInfo describes a port announced by a connecting switch
type PortInfo struct {
	Number uint32 `json:"number" yaml:"number"`
	Name   string `json:"name" yaml:"name"`
}

// LinkListener is notified after a new link has been committed
type LinkListener func(ctx context.Context, link *domain.Link)

// SwitchDeletedListener receives the interface ids removed with a switch
type SwitchDeletedListener func(ctx context.Context, switchID string, interfaceIDs []string)

// TopologyOption configures a TopologyService
type TopologyOption func(*TopologyService)

// WithEnableAll makes discovered switches, interfaces and links start enabled
func WithEnableAll(enabled bool) TopologyOption {
	return func(s *TopologyService) {
		s.enableAll = enabled
	}
}

// WithTracer overrides the tracer used for operation spans
func WithTracer(tracer trace.Tracer) TopologyOption {
	return func(s *TopologyService) {
		s.tracer = tracer
	}
}

// TopologyService owns the switch/interface/link graph. Mutations are
// serialized per entity id; reads return the store's committed state.
type TopologyService struct {
	store     repository.Store
	eventBus  *EventBus
	locks     *keyedMutex
	tracer    trace.Tracer
	enableAll bool

	listenerMu      sync.RWMutex
	linkListeners   []LinkListener
	deleteListeners []SwitchDeletedListener
}

// NewTopologyService creates a new topology service
func NewTopologyService(store repository.Store, eventBus *EventBus, opts ...TopologyOption) *TopologyService {
	s := &TopologyService{
		store:    store,
		eventBus: eventBus,
		locks:    newKeyedMutex(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnableAll reports whether discovered entities start enabled
func (s *TopologyService) EnableAll() bool {
	return s.enableAll
}

// OnLinkCreated registers fn to run after each new link commits
func (s *TopologyService) OnLinkCreated(fn LinkListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.linkListeners = append(s.linkListeners, fn)
}

// OnSwitchDeleted registers fn to run after a switch is removed
func (s *TopologyService) OnSwitchDeleted(fn SwitchDeletedListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.deleteListeners = append(s.deleteListeners, fn)
}

func (s *TopologyService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "topology."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ============================================================================
// Reads
// ============================================================================

// GetSwitch returns a switch with its interfaces
func (s *TopologyService) GetSwitch(ctx context.Context, id string) (*domain.Switch, error) {
	sw, err := s.store.GetSwitch(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, iface := range sw.Interfaces {
		iface.SetActive(sw.Enabled)
	}
	return sw, nil
}

// ListSwitches returns every switch with its interfaces
func (s *TopologyService) ListSwitches(ctx context.Context) ([]*domain.Switch, error) {
	switches, err := s.store.ListSwitches(ctx)
	if err != nil {
		return nil, err
	}
	for _, sw := range switches {
		for _, iface := range sw.Interfaces {
			iface.SetActive(sw.Enabled)
		}
	}
	return switches, nil
}

// GetInterface returns a single interface with its derived active flag
func (s *TopologyService) GetInterface(ctx context.Context, id string) (*domain.Interface, error) {
	iface, err := s.store.GetInterface(ctx, id)
	if err != nil {
		return nil, err
	}
	sw, err := s.store.GetSwitch(ctx, iface.SwitchID)
	if err != nil {
		return nil, err
	}
	iface.SetActive(sw.Enabled)
	return iface, nil
}

// ListInterfaces returns every interface across all switches
func (s *TopologyService) ListInterfaces(ctx context.Context) ([]*domain.Interface, error) {
	switches, err := s.ListSwitches(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.Interface
	for _, sw := range switches {
		for _, iface := range sw.Interfaces {
			out = append(out, iface)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OperationalInterfaces returns active interfaces that may emit hellos
func (s *TopologyService) OperationalInterfaces(ctx context.Context) ([]*domain.Interface, error) {
	ifaces, err := s.ListInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	out := ifaces[:0]
	for _, iface := range ifaces {
		if iface.Active && iface.LLDP {
			out = append(out, iface)
		}
	}
	return out, nil
}

// GetLink returns a single link
func (s *TopologyService) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	return s.store.GetLink(ctx, id)
}

// ListLinks returns every link
func (s *TopologyService) ListLinks(ctx context.Context) ([]*domain.Link, error) {
	return s.store.ListLinks(ctx)
}

// ============================================================================
// Switches
// ============================================================================

// EnableSwitch sets the switch enabled flag. Interfaces are not touched.
func (s *TopologyService) EnableSwitch(ctx context.Context, id string) error {
	return s.setSwitchEnabled(ctx, id, true)
}

// DisableSwitch clears the switch enabled flag. Interfaces are not touched.
func (s *TopologyService) DisableSwitch(ctx context.Context, id string) error {
	return s.setSwitchEnabled(ctx, id, false)
}

func (s *TopologyService) setSwitchEnabled(ctx context.Context, id string, enabled bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetSwitchEnabled", attribute.String("switch.id", id), attribute.Bool("enabled", enabled))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	sw, err := s.store.GetSwitch(ctx, id)
	if err != nil {
		return err
	}
	if sw.Enabled == enabled {
		return nil
	}
	sw.Enabled = enabled
	if err := s.store.UpsertSwitch(ctx, sw); err != nil {
		return err
	}

	eventType := EventSwitchDisabled
	if enabled {
		eventType = EventSwitchEnabled
	}
	s.eventBus.Publish(Event{Type: eventType, Payload: map[string]string{"switch_id": id}})
	logging.WithSwitch(id).Infof("switch enabled=%t", enabled)
	return nil
}

// DeleteSwitch removes a disabled switch, its interfaces and attached links
func (s *TopologyService) DeleteSwitch(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteSwitch", attribute.String("switch.id", id))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(id)
	sw, err := s.store.GetSwitch(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if sw.Enabled {
		unlock()
		return domain.NewPreconditionError("delete", "switch "+id, "switch must be disabled")
	}
	if err := s.store.DeleteSwitch(ctx, id); err != nil {
		unlock()
		return err
	}
	unlock()

	ids := make([]string, 0, len(sw.Interfaces))
	for ifaceID := range sw.Interfaces {
		ids = append(ids, ifaceID)
	}
	sort.Strings(ids)

	s.listenerMu.RLock()
	listeners := append([]SwitchDeletedListener(nil), s.deleteListeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, id, ids)
	}

	s.eventBus.Publish(Event{Type: EventSwitchDeleted, Payload: map[string]string{"switch_id": id}})
	logging.WithSwitch(id).Infof("switch deleted with %d interfaces", len(ids))
	return nil
}

// ============================================================================
// Interfaces
// ============================================================================

// EnableInterface enables an interface whose switch is enabled
func (s *TopologyService) EnableInterface(ctx context.Context, id string) error {
	return s.setInterfaceEnabled(ctx, id, true)
}

// DisableInterface disables an interface; always allowed
func (s *TopologyService) DisableInterface(ctx context.Context, id string) error {
	return s.setInterfaceEnabled(ctx, id, false)
}

func (s *TopologyService) setInterfaceEnabled(ctx context.Context, id string, enabled bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetInterfaceEnabled", attribute.String("interface.id", id), attribute.Bool("enabled", enabled))
	defer func() { endSpan(span, err) }()

	switchID, _, err := domain.SplitInterfaceID(id)
	if err != nil {
		return domain.NewNotFoundError("interface", id)
	}
	unlock := s.locks.Lock(switchID, id)
	defer unlock()

	iface, err := s.store.GetInterface(ctx, id)
	if err != nil {
		return err
	}
	if enabled {
		sw, err := s.store.GetSwitch(ctx, iface.SwitchID)
		if err != nil {
			return err
		}
		if !sw.Enabled {
			return domain.NewPreconditionError("enable", "interface "+id, fmt.Sprintf("switch %s must be enabled", sw.ID))
		}
	}
	if iface.Enabled == enabled {
		return nil
	}
	iface.Enabled = enabled
	if err := s.store.UpsertInterface(ctx, iface); err != nil {
		return err
	}

	eventType := EventInterfaceDisabled
	if enabled {
		eventType = EventInterfaceEnabled
	}
	s.eventBus.Publish(Event{Type: eventType, Payload: map[string]string{"interface_id": id}})
	logging.WithInterface(id).Infof("interface enabled=%t", enabled)
	return nil
}

// EnableAllInterfaces enables every interface of an enabled switch in one transaction
func (s *TopologyService) EnableAllInterfaces(ctx context.Context, switchID string) error {
	return s.setAllInterfacesEnabled(ctx, switchID, true)
}

// DisableAllInterfaces disables every interface of a switch in one transaction
func (s *TopologyService) DisableAllInterfaces(ctx context.Context, switchID string) error {
	return s.setAllInterfacesEnabled(ctx, switchID, false)
}

func (s *TopologyService) setAllInterfacesEnabled(ctx context.Context, switchID string, enabled bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetAllInterfacesEnabled", attribute.String("switch.id", switchID), attribute.Bool("enabled", enabled))
	defer func() { endSpan(span, err) }()

	sw, err := s.store.GetSwitch(ctx, switchID)
	if err != nil {
		return err
	}
	keys := []string{switchID}
	for id := range sw.Interfaces {
		keys = append(keys, id)
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	// re-read under lock
	sw, err = s.store.GetSwitch(ctx, switchID)
	if err != nil {
		return err
	}
	if enabled && !sw.Enabled {
		return domain.NewPreconditionError("enable", "interfaces of switch "+switchID, fmt.Sprintf("switch %s must be enabled", switchID))
	}

	var changed []*domain.Interface
	for _, iface := range sw.Interfaces {
		if iface.Enabled != enabled {
			iface.Enabled = enabled
			changed = append(changed, iface)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := s.store.UpsertInterfaces(ctx, changed); err != nil {
		return err
	}

	eventType := EventInterfaceDisabled
	if enabled {
		eventType = EventInterfaceEnabled
	}
	for _, iface := range changed {
		s.eventBus.Publish(Event{Type: eventType, Payload: map[string]string{"interface_id": iface.ID}})
	}
	logging.WithSwitch(switchID).Infof("%d interfaces enabled=%t", len(changed), enabled)
	return nil
}

// SetLLDP allows or excludes hello emission on the given interfaces. Every id
// must exist; the update is applied in one transaction.
func (s *TopologyService) SetLLDP(ctx context.Context, ids []string, allowed bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetLLDP", attribute.StringSlice("interface.ids", ids), attribute.Bool("allowed", allowed))
	defer func() { endSpan(span, err) }()

	if len(ids) == 0 {
		return domain.NewValidationError("interfaces list is empty")
	}
	unlock := s.locks.Lock(ids...)
	defer unlock()

	ifaces := make([]*domain.Interface, 0, len(ids))
	for _, id := range ids {
		iface, err := s.store.GetInterface(ctx, id)
		if err != nil {
			return err
		}
		if iface.LLDP != allowed {
			iface.LLDP = allowed
			ifaces = append(ifaces, iface)
		}
	}
	if len(ifaces) == 0 {
		return nil
	}
	if err := s.store.UpsertInterfaces(ctx, ifaces); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventLLDPExclusionChange, Payload: map[string]interface{}{"interfaces": ids, "lldp": allowed}})
	return nil
}

// ============================================================================
// Links
// ============================================================================

// EnableLink enables a link whose endpoints and their switches are enabled
func (s *TopologyService) EnableLink(ctx context.Context, id string) error {
	return s.setLinkEnabled(ctx, id, true)
}

// DisableLink disables a link; always allowed
func (s *TopologyService) DisableLink(ctx context.Context, id string) error {
	return s.setLinkEnabled(ctx, id, false)
}

// linkLockKeys returns the link id with its endpoint and switch ids
func linkLockKeys(link *domain.Link) []string {
	keys := []string{link.ID}
	for _, ep := range []string{link.EndpointA.ID, link.EndpointB.ID} {
		keys = append(keys, ep)
		if sw, _, err := domain.SplitInterfaceID(ep); err == nil {
			keys = append(keys, sw)
		}
	}
	return keys
}

func (s *TopologyService) setLinkEnabled(ctx context.Context, id string, enabled bool) (err error) {
	ctx, span := s.startSpan(ctx, "SetLinkEnabled", attribute.String("link.id", id), attribute.Bool("enabled", enabled))
	defer func() { endSpan(span, err) }()

	link, err := s.store.GetLink(ctx, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(linkLockKeys(link)...)
	defer unlock()

	link, err = s.store.GetLink(ctx, id)
	if err != nil {
		return err
	}
	if enabled {
		if err := s.checkEndpointsEnabled(ctx, link); err != nil {
			return err
		}
	}
	if link.Enabled == enabled {
		return nil
	}
	link.Enabled = enabled
	if err := s.store.UpsertLink(ctx, link); err != nil {
		return err
	}

	eventType := EventLinkDisabled
	if enabled {
		eventType = EventLinkEnabled
	}
	s.eventBus.Publish(Event{Type: eventType, Payload: map[string]string{"link_id": id}})
	logging.WithField("link", id).Infof("link enabled=%t", enabled)
	return nil
}

func (s *TopologyService) checkEndpointsEnabled(ctx context.Context, link *domain.Link) error {
	for _, ep := range []string{link.EndpointA.ID, link.EndpointB.ID} {
		iface, err := s.GetInterface(ctx, ep)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewPreconditionError("enable", "link "+link.ID, fmt.Sprintf("endpoint %s does not exist", ep))
			}
			return err
		}
		if !iface.Active {
			return domain.NewPreconditionError("enable", "link "+link.ID,
				fmt.Sprintf("endpoint %s and switch %s must be enabled", ep, iface.SwitchID))
		}
	}
	return nil
}

// DeleteLink removes a disabled link
func (s *TopologyService) DeleteLink(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteLink", attribute.String("link.id", id))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	link, err := s.store.GetLink(ctx, id)
	if err != nil {
		return err
	}
	if link.Enabled {
		return domain.NewPreconditionError("delete", "link "+id, "link must be disabled")
	}
	if err := s.store.DeleteLink(ctx, id); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventLinkDeleted, Payload: map[string]string{"link_id": id}})
	return nil
}

// ============================================================================
// Metadata
// ============================================================================

// GetMetadata returns the metadata map of an entity
func (s *TopologyService) GetMetadata(ctx context.Context, kind domain.EntityKind, id string) (domain.Metadata, error) {
	switch kind {
	case domain.KindSwitch:
		sw, err := s.store.GetSwitch(ctx, id)
		if err != nil {
			return nil, err
		}
		return sw.Metadata, nil
	case domain.KindInterface:
		iface, err := s.store.GetInterface(ctx, id)
		if err != nil {
			return nil, err
		}
		return iface.Metadata, nil
	case domain.KindLink:
		link, err := s.store.GetLink(ctx, id)
		if err != nil {
			return nil, err
		}
		return link.Metadata, nil
	}
	return nil, domain.NewValidationError(fmt.Sprintf("unknown entity kind %q", kind))
}

// SetMetadata merges operator metadata into an entity
func (s *TopologyService) SetMetadata(ctx context.Context, kind domain.EntityKind, id string, md domain.Metadata) (result domain.Metadata, err error) {
	ctx, span := s.startSpan(ctx, "SetMetadata", attribute.String("kind", string(kind)), attribute.String("id", id))
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateOperatorMetadata(md); err != nil {
		return nil, err
	}
	return s.mergeMetadata(ctx, kind, id, md)
}

func (s *TopologyService) mergeMetadata(ctx context.Context, kind domain.EntityKind, id string, md domain.Metadata) (domain.Metadata, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	result, err := s.store.MergeMetadata(ctx, kind, id, md)
	if err != nil {
		return nil, err
	}
	s.eventBus.Publish(Event{Type: EventMetadataUpdated, Payload: map[string]string{"kind": string(kind), "id": id}})
	return result, nil
}

// DeleteMetadata removes one operator metadata key
func (s *TopologyService) DeleteMetadata(ctx context.Context, kind domain.EntityKind, id, key string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteMetadata", attribute.String("kind", string(kind)), attribute.String("id", id))
	defer func() { endSpan(span, err) }()

	if key == domain.LivenessStatusKey {
		return domain.NewValidationError(fmt.Sprintf("metadata key %q is reserved", key))
	}
	return s.deleteMetadataKey(ctx, kind, id, key)
}

func (s *TopologyService) deleteMetadataKey(ctx context.Context, kind domain.EntityKind, id, key string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.DeleteMetadataKey(ctx, kind, id, key); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventMetadataDeleted, Payload: map[string]string{"kind": string(kind), "id": id, "key": key}})
	return nil
}

// SetLivenessStatus writes the reserved liveness key on a link. It returns a
// not-found error while the link does not exist yet.
func (s *TopologyService) SetLivenessStatus(ctx context.Context, linkID string, status domain.LivenessStatus) error {
	if _, err := s.mergeMetadata(ctx, domain.KindLink, linkID, domain.Metadata{domain.LivenessStatusKey: string(status)}); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventLivenessChanged, Payload: map[string]string{"link": linkID, "status": string(status)}})
	return nil
}

// ClearLivenessStatus removes the reserved liveness key; absent keys are ignored
func (s *TopologyService) ClearLivenessStatus(ctx context.Context, linkID string) error {
	err := s.deleteMetadataKey(ctx, domain.KindLink, linkID, domain.LivenessStatusKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// ============================================================================
// Discovery
// ============================================================================

// HandleSwitchUp records a connecting switch and any ports not yet known.
// Existing records keep their flags and metadata.
func (s *TopologyService) HandleSwitchUp(ctx context.Context, id string, ports []PortInfo) (err error) {
	ctx, span := s.startSpan(ctx, "HandleSwitchUp", attribute.String("switch.id", id), attribute.Int("ports", len(ports)))
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateSwitchID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	sw, err := s.store.GetSwitch(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sw = domain.NewSwitch(id)
		sw.Enabled = s.enableAll
		if err := s.store.UpsertSwitch(ctx, sw); err != nil {
			return err
		}
		logging.WithSwitch(id).Info("switch discovered")
	case err != nil:
		return err
	}

	var added []*domain.Interface
	for _, port := range ports {
		ifaceID := domain.InterfaceID(id, port.Number)
		if _, ok := sw.Interfaces[ifaceID]; ok {
			continue
		}
		iface := domain.NewInterface(id, port.Number, port.Name)
		iface.Enabled = s.enableAll
		added = append(added, iface)
	}
	if len(added) > 0 {
		if err := s.store.UpsertInterfaces(ctx, added); err != nil {
			return err
		}
	}

	s.eventBus.Publish(Event{Type: EventSwitchConnected, Payload: map[string]interface{}{"switch_id": id, "new_interfaces": len(added)}})
	return nil
}

// HandleAdjacency creates the link between local and remote when absent.
// It returns the link and whether it was created by this call.
func (s *TopologyService) HandleAdjacency(ctx context.Context, local, remote string) (link *domain.Link, created bool, err error) {
	if local == remote {
		return nil, false, domain.NewValidationError("adjacency endpoints must differ")
	}
	id := domain.LinkID(local, remote)

	unlock := s.locks.Lock(linkLockKeys(domain.NewLink(local, remote))...)
	link, err = s.store.GetLink(ctx, id)
	if err == nil {
		unlock()
		return link, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		unlock()
		return nil, false, err
	}

	ctx, span := s.startSpan(ctx, "HandleAdjacency", attribute.String("link.id", id))
	defer func() { endSpan(span, err) }()

	for _, ep := range []string{local, remote} {
		if _, err := s.store.GetInterface(ctx, ep); err != nil {
			unlock()
			return nil, false, err
		}
	}
	link = domain.NewLink(local, remote)
	link.Enabled = s.enableAll
	if err := s.store.UpsertLink(ctx, link); err != nil {
		unlock()
		return nil, false, err
	}
	unlock()

	logging.WithFields(map[string]interface{}{
		"link":       id,
		"endpoint_a": link.EndpointA.ID,
		"endpoint_b": link.EndpointB.ID,
	}).Info("link discovered")
	s.eventBus.Publish(Event{Type: EventLinkCreated, Payload: link})

	s.listenerMu.RLock()
	listeners := append([]LinkListener(nil), s.linkListeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, link)
	}
	return link, true, nil
}

// Ping reports whether the store is reachable
func (s *TopologyService) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}
