package repository

import (
	"context"
	"errors"
	"time"

	"topokeeper/internal/domain"
	"topokeeper/internal/observability"
)

type instrumented struct {
	next    Store
	metrics *observability.Metrics
}

// Instrument wraps s so every call is timed in metrics
func Instrument(s Store, m *observability.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

// observe counts only backend failures as errors; lookups that miss are normal
func (s *instrumented) observe(op string, start time.Time, err error) {
	if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		err = nil
	}
	s.metrics.ObserveStore(op, start, err)
}

func (s *instrumented) GetSwitch(ctx context.Context, id string) (*domain.Switch, error) {
	start := time.Now()
	out, err := s.next.GetSwitch(ctx, id)
	s.observe("get_switch", start, err)
	return out, err
}

func (s *instrumented) ListSwitches(ctx context.Context) ([]*domain.Switch, error) {
	start := time.Now()
	out, err := s.next.ListSwitches(ctx)
	s.observe("list_switches", start, err)
	return out, err
}

func (s *instrumented) UpsertSwitch(ctx context.Context, sw *domain.Switch) error {
	start := time.Now()
	err := s.next.UpsertSwitch(ctx, sw)
	s.observe("upsert_switch", start, err)
	return err
}

func (s *instrumented) DeleteSwitch(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.DeleteSwitch(ctx, id)
	s.observe("delete_switch", start, err)
	return err
}

func (s *instrumented) GetInterface(ctx context.Context, id string) (*domain.Interface, error) {
	start := time.Now()
	out, err := s.next.GetInterface(ctx, id)
	s.observe("get_interface", start, err)
	return out, err
}

func (s *instrumented) ListInterfaces(ctx context.Context) ([]*domain.Interface, error) {
	start := time.Now()
	out, err := s.next.ListInterfaces(ctx)
	s.observe("list_interfaces", start, err)
	return out, err
}

func (s *instrumented) ListSwitchInterfaces(ctx context.Context, switchID string) ([]*domain.Interface, error) {
	start := time.Now()
	out, err := s.next.ListSwitchInterfaces(ctx, switchID)
	s.observe("list_switch_interfaces", start, err)
	return out, err
}

func (s *instrumented) UpsertInterface(ctx context.Context, iface *domain.Interface) error {
	start := time.Now()
	err := s.next.UpsertInterface(ctx, iface)
	s.observe("upsert_interface", start, err)
	return err
}

func (s *instrumented) UpsertInterfaces(ctx context.Context, ifaces []*domain.Interface) error {
	start := time.Now()
	err := s.next.UpsertInterfaces(ctx, ifaces)
	s.observe("upsert_interfaces", start, err)
	return err
}

func (s *instrumented) GetLink(ctx context.Context, id string) (*domain.Link, error) {
	start := time.Now()
	out, err := s.next.GetLink(ctx, id)
	s.observe("get_link", start, err)
	return out, err
}

func (s *instrumented) ListLinks(ctx context.Context) ([]*domain.Link, error) {
	start := time.Now()
	out, err := s.next.ListLinks(ctx)
	s.observe("list_links", start, err)
	return out, err
}

func (s *instrumented) UpsertLink(ctx context.Context, link *domain.Link) error {
	start := time.Now()
	err := s.next.UpsertLink(ctx, link)
	s.observe("upsert_link", start, err)
	return err
}

func (s *instrumented) DeleteLink(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.DeleteLink(ctx, id)
	s.observe("delete_link", start, err)
	return err
}

func (s *instrumented) MergeMetadata(ctx context.Context, kind domain.EntityKind, id string, md domain.Metadata) (domain.Metadata, error) {
	start := time.Now()
	out, err := s.next.MergeMetadata(ctx, kind, id, md)
	s.observe("merge_metadata", start, err)
	return out, err
}

func (s *instrumented) DeleteMetadataKey(ctx context.Context, kind domain.EntityKind, id, key string) error {
	start := time.Now()
	err := s.next.DeleteMetadataKey(ctx, kind, id, key)
	s.observe("delete_metadata", start, err)
	return err
}

func (s *instrumented) ListLivenessInterfaces(ctx context.Context) ([]string, error) {
	start := time.Now()
	out, err := s.next.ListLivenessInterfaces(ctx)
	s.observe("list_liveness", start, err)
	return out, err
}

func (s *instrumented) AddLivenessInterfaces(ctx context.Context, ids []string) error {
	start := time.Now()
	err := s.next.AddLivenessInterfaces(ctx, ids)
	s.observe("add_liveness", start, err)
	return err
}

func (s *instrumented) RemoveLivenessInterfaces(ctx context.Context, ids []string) error {
	start := time.Now()
	err := s.next.RemoveLivenessInterfaces(ctx, ids)
	s.observe("remove_liveness", start, err)
	return err
}

func (s *instrumented) Reset(ctx context.Context) error {
	start := time.Now()
	err := s.next.Reset(ctx)
	s.observe("reset", start, err)
	return err
}

func (s *instrumented) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
