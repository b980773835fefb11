package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"topokeeper/internal/domain"
	"topokeeper/internal/liveness"
	"topokeeper/internal/logging"
	"topokeeper/internal/repository"
)

// PollingTarget is anything scheduled on the hello polling interval
type PollingTarget interface {
	SetPollingTime(time.Duration)
}

// LLDPService exposes liveness monitoring, the hello polling interval and
// the per-interface hello allow list
type LLDPService struct {
	topo     *TopologyService
	store    repository.Store
	detector *liveness.Detector
	eventBus *EventBus
	targets  []PollingTarget
}

// NewLLDPService wires the detector into topology notifications. targets
// receive polling interval changes along with the detector.
func NewLLDPService(topo *TopologyService, store repository.Store, detector *liveness.Detector, eventBus *EventBus, targets ...PollingTarget) *LLDPService {
	s := &LLDPService{
		topo:     topo,
		store:    store,
		detector: detector,
		eventBus: eventBus,
		targets:  append([]PollingTarget{detector}, targets...),
	}
	topo.OnLinkCreated(detector.LinkCreated)
	topo.OnSwitchDeleted(func(_ context.Context, _ string, ids []string) {
		detector.Disable(ids)
	})
	return s
}

// AddPollingTarget registers another consumer of polling interval changes
func (s *LLDPService) AddPollingTarget(t PollingTarget) {
	s.targets = append(s.targets, t)
}

// Restore re-enables monitoring for the persisted liveness set
func (s *LLDPService) Restore(ctx context.Context) error {
	ids, err := s.store.ListLivenessInterfaces(ctx)
	if err != nil {
		return err
	}
	s.detector.Enable(ids)
	if err := s.pairPeers(ctx); err != nil {
		return err
	}
	if len(ids) > 0 {
		logging.Infof("restored liveness monitoring on %d interfaces", len(ids))
	}
	return nil
}

// pairPeers hands every discovered link to the detector so monitored
// neighbours are paired before their first hello
func (s *LLDPService) pairPeers(ctx context.Context) error {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return err
	}
	s.detector.AddPeers(links)
	return nil
}

// checkInterfaces verifies every id names an existing interface
func (s *LLDPService) checkInterfaces(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return domain.NewValidationError("interfaces list is empty")
	}
	for _, id := range ids {
		if _, err := s.store.GetInterface(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// EnableLiveness starts liveness monitoring on ids and persists the set
func (s *LLDPService) EnableLiveness(ctx context.Context, ids []string) (err error) {
	ctx, span := s.topo.startSpan(ctx, "EnableLiveness", attribute.StringSlice("interface.ids", ids))
	defer func() { endSpan(span, err) }()

	if err := s.checkInterfaces(ctx, ids); err != nil {
		return err
	}
	if err := s.store.AddLivenessInterfaces(ctx, ids); err != nil {
		return err
	}
	s.detector.Enable(ids)
	if err := s.pairPeers(ctx); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventLivenessEnabled, Payload: map[string]interface{}{"interfaces": ids}})
	return nil
}

// DisableLiveness stops liveness monitoring on ids and clears the status of
// their links. Link enabled flags are left alone.
func (s *LLDPService) DisableLiveness(ctx context.Context, ids []string) (err error) {
	ctx, span := s.topo.startSpan(ctx, "DisableLiveness", attribute.StringSlice("interface.ids", ids))
	defer func() { endSpan(span, err) }()

	if err := s.checkInterfaces(ctx, ids); err != nil {
		return err
	}
	if err := s.store.RemoveLivenessInterfaces(ctx, ids); err != nil {
		return err
	}
	s.detector.Disable(ids)
	s.eventBus.Publish(Event{Type: EventLivenessDisabled, Payload: map[string]interface{}{"interfaces": ids}})
	return nil
}

// LivenessInterfaces lists monitored interfaces, optionally filtered by id
func (s *LLDPService) LivenessInterfaces(filter ...string) []domain.InterfaceLiveness {
	return s.detector.Interfaces(filter...)
}

// LivenessPairs lists pairs of monitored interfaces
func (s *LLDPService) LivenessPairs() []domain.LivenessPair {
	return s.detector.Pairs()
}

// PollingTime returns the hello interval in whole seconds
func (s *LLDPService) PollingTime() int {
	return int(s.detector.PollingTime() / time.Second)
}

// SetPollingTime changes the hello interval; seconds must be positive
func (s *LLDPService) SetPollingTime(_ context.Context, seconds int) error {
	if seconds <= 0 {
		return domain.NewValidationError(fmt.Sprintf("polling_time must be a positive integer, got %d", seconds))
	}
	interval := time.Duration(seconds) * time.Second
	for _, t := range s.targets {
		t.SetPollingTime(interval)
	}
	s.eventBus.Publish(Event{Type: EventPollingTimeChanged, Payload: map[string]int{"polling_time": seconds}})
	logging.Infof("hello polling time set to %ds", seconds)
	return nil
}

// LLDPInterfaces returns the ids of interfaces allowed to emit hellos
func (s *LLDPService) LLDPInterfaces(ctx context.Context) ([]string, error) {
	ifaces, err := s.topo.ListInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, iface := range ifaces {
		if iface.LLDP {
			out = append(out, iface.ID)
		}
	}
	return out, nil
}

// EnableLLDP allows hello emission on ids
func (s *LLDPService) EnableLLDP(ctx context.Context, ids []string) error {
	return s.topo.SetLLDP(ctx, ids, true)
}

// DisableLLDP excludes ids from hello emission and processing
func (s *LLDPService) DisableLLDP(ctx context.Context, ids []string) error {
	return s.topo.SetLLDP(ctx, ids, false)
}
