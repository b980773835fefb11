package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"topokeeper/internal/domain"
	"topokeeper/internal/repository"
	"topokeeper/internal/repository/sqlite"
)

const (
	dpid1 = "00:00:00:00:00:00:00:01"
	dpid2 = "00:00:00:00:00:00:00:02"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestTopology(t *testing.T, opts ...TopologyOption) (*TopologyService, chan Event) {
	t.Helper()
	bus := NewEventBus()
	events := make(chan Event, 256)
	bus.Subscribe(events)
	return NewTopologyService(newTestStore(t), bus, opts...), events
}

func ports(n int) []PortInfo {
	out := make([]PortInfo, n)
	for i := range out {
		out[i] = PortInfo{Number: uint32(i + 1), Name: "eth" + string(rune('1'+i))}
	}
	return out
}

// seedPair connects two switches with three ports each and discovers 1:3 <-> 2:2
func seedPair(t *testing.T, svc *TopologyService) *domain.Link {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(3)))
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid2, ports(3)))
	link, created, err := svc.HandleAdjacency(ctx, dpid2+":2", dpid1+":3")
	require.NoError(t, err)
	require.True(t, created)
	return link
}

func enableEndpoints(t *testing.T, svc *TopologyService, link *domain.Link) {
	t.Helper()
	ctx := context.Background()
	for _, ep := range []string{link.EndpointA.ID, link.EndpointB.ID} {
		sw, _, err := domain.SplitInterfaceID(ep)
		require.NoError(t, err)
		require.NoError(t, svc.EnableSwitch(ctx, sw))
		require.NoError(t, svc.EnableInterface(ctx, ep))
	}
}

func TestHandleSwitchUp(t *testing.T) {
	svc, events := newTestTopology(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(3)))
	sw, err := svc.GetSwitch(ctx, dpid1)
	require.NoError(t, err)
	require.False(t, sw.Enabled)
	require.Len(t, sw.Interfaces, 3)
	for _, iface := range sw.Interfaces {
		require.False(t, iface.Enabled)
		require.False(t, iface.Active)
		require.True(t, iface.LLDP)
	}
	require.Equal(t, EventSwitchConnected, (<-events).Type)

	t.Run("reconnect keeps flags and adds new ports", func(t *testing.T) {
		require.NoError(t, svc.EnableSwitch(ctx, dpid1))
		require.NoError(t, svc.EnableInterface(ctx, dpid1+":1"))
		require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(4)))

		sw, err := svc.GetSwitch(ctx, dpid1)
		require.NoError(t, err)
		require.True(t, sw.Enabled)
		require.Len(t, sw.Interfaces, 4)
		require.True(t, sw.Interfaces[dpid1+":1"].Active)
		require.False(t, sw.Interfaces[dpid1+":4"].Enabled)
	})

	t.Run("invalid datapath id", func(t *testing.T) {
		require.ErrorIs(t, svc.HandleSwitchUp(ctx, "bogus", nil), domain.ErrValidationFailed)
	})
}

func TestEnableAllMode(t *testing.T) {
	svc, _ := newTestTopology(t, WithEnableAll(true))
	require.True(t, svc.EnableAll())
	link := seedPair(t, svc)
	ctx := context.Background()

	sw, err := svc.GetSwitch(ctx, dpid1)
	require.NoError(t, err)
	require.True(t, sw.Enabled)
	for _, iface := range sw.Interfaces {
		require.True(t, iface.Active)
	}
	require.True(t, link.Enabled)

	ops, err := svc.OperationalInterfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 6)
}

func TestInterfacePrecondition(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(2)))

	err := svc.EnableInterface(ctx, dpid1+":1")
	require.ErrorIs(t, err, domain.ErrPreconditionFailed)

	require.NoError(t, svc.DisableInterface(ctx, dpid1+":1"))
	require.ErrorIs(t, svc.EnableInterface(ctx, dpid1+":9"), domain.ErrNotFound)
	require.ErrorIs(t, svc.EnableInterface(ctx, "junk"), domain.ErrNotFound)

	require.NoError(t, svc.EnableSwitch(ctx, dpid1))
	require.NoError(t, svc.EnableInterface(ctx, dpid1+":1"))

	// no cascade on switch disable
	require.NoError(t, svc.DisableSwitch(ctx, dpid1))
	iface, err := svc.GetInterface(ctx, dpid1+":1")
	require.NoError(t, err)
	require.True(t, iface.Enabled)
	require.False(t, iface.Active)
}

func TestBulkInterfaces(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(3)))

	require.ErrorIs(t, svc.EnableAllInterfaces(ctx, dpid1), domain.ErrPreconditionFailed)
	require.ErrorIs(t, svc.EnableAllInterfaces(ctx, dpid2), domain.ErrNotFound)

	require.NoError(t, svc.EnableSwitch(ctx, dpid1))
	require.NoError(t, svc.EnableAllInterfaces(ctx, dpid1))
	ifaces, err := svc.ListInterfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ifaces, 3)
	for _, iface := range ifaces {
		require.True(t, iface.Active)
	}

	require.NoError(t, svc.DisableAllInterfaces(ctx, dpid1))
	ifaces, err = svc.ListInterfaces(ctx)
	require.NoError(t, err)
	for _, iface := range ifaces {
		require.False(t, iface.Enabled)
	}
}

func TestLinkLifecycle(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	link := seedPair(t, svc)

	require.Equal(t, dpid1+":3", link.EndpointA.ID)
	require.Equal(t, domain.LinkID(dpid1+":3", dpid2+":2"), link.ID)
	require.False(t, link.Enabled)

	again, created, err := svc.HandleAdjacency(ctx, dpid1+":3", dpid2+":2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, link.ID, again.ID)

	require.ErrorIs(t, svc.EnableLink(ctx, link.ID), domain.ErrPreconditionFailed)
	enableEndpoints(t, svc, link)
	require.NoError(t, svc.EnableLink(ctx, link.ID))

	got, err := svc.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.True(t, got.Enabled)

	require.ErrorIs(t, svc.DeleteLink(ctx, link.ID), domain.ErrPreconditionFailed)
	require.NoError(t, svc.DisableLink(ctx, link.ID))
	require.NoError(t, svc.DeleteLink(ctx, link.ID))
	require.ErrorIs(t, svc.DeleteLink(ctx, link.ID), domain.ErrNotFound)
}

func TestHandleAdjacencyErrors(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(1)))

	_, _, err := svc.HandleAdjacency(ctx, dpid1+":1", dpid1+":1")
	require.ErrorIs(t, err, domain.ErrValidationFailed)

	_, _, err = svc.HandleAdjacency(ctx, dpid1+":1", dpid2+":1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	links, err := svc.ListLinks(ctx)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestHandleAdjacencyWaitsForSwitchDelete(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(3)))
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid2, ports(3)))

	// hold the switch key the way DeleteSwitch does
	unlock := svc.locks.Lock(dpid1)
	done := make(chan error, 1)
	go func() {
		_, _, err := svc.HandleAdjacency(ctx, dpid1+":3", dpid2+":2")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("adjacency committed while the switch was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, svc.store.DeleteSwitch(ctx, dpid1))
	unlock()

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("adjacency never completed")
	}
	links, err := svc.ListLinks(ctx)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestLinkCreatedListener(t *testing.T) {
	svc, _ := newTestTopology(t)
	var (
		mu  sync.Mutex
		got []string
	)
	svc.OnLinkCreated(func(_ context.Context, link *domain.Link) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, link.ID)
	})
	link := seedPair(t, svc)
	_, _, err := svc.HandleAdjacency(context.Background(), dpid1+":3", dpid2+":2")
	require.NoError(t, err)
	require.Equal(t, []string{link.ID}, got)
}

func TestDeleteSwitch(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	seedPair(t, svc)

	var removed []string
	svc.OnSwitchDeleted(func(_ context.Context, _ string, ids []string) {
		removed = ids
	})

	require.NoError(t, svc.EnableSwitch(ctx, dpid1))
	require.ErrorIs(t, svc.DeleteSwitch(ctx, dpid1), domain.ErrPreconditionFailed)
	require.NoError(t, svc.DisableSwitch(ctx, dpid1))
	require.NoError(t, svc.DeleteSwitch(ctx, dpid1))

	require.Equal(t, []string{dpid1 + ":1", dpid1 + ":2", dpid1 + ":3"}, removed)
	_, err := svc.GetSwitch(ctx, dpid1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	links, err := svc.ListLinks(ctx)
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestMetadata(t *testing.T) {
	svc, _ := newTestTopology(t)
	ctx := context.Background()
	link := seedPair(t, svc)

	md, err := svc.SetMetadata(ctx, domain.KindSwitch, dpid1, domain.Metadata{"rack": "r1", "floor": float64(2)})
	require.NoError(t, err)
	require.Equal(t, "r1", md["rack"])

	got, err := svc.GetMetadata(ctx, domain.KindSwitch, dpid1)
	require.NoError(t, err)
	require.Equal(t, domain.Metadata{"rack": "r1", "floor": float64(2)}, got)

	_, err = svc.SetMetadata(ctx, domain.KindLink, link.ID, domain.Metadata{domain.LivenessStatusKey: "up"})
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.ErrorIs(t, svc.DeleteMetadata(ctx, domain.KindLink, link.ID, domain.LivenessStatusKey), domain.ErrValidationFailed)

	require.NoError(t, svc.DeleteMetadata(ctx, domain.KindSwitch, dpid1, "rack"))
	require.ErrorIs(t, svc.DeleteMetadata(ctx, domain.KindSwitch, dpid1, "rack"), domain.ErrNotFound)
	got, err = svc.GetMetadata(ctx, domain.KindSwitch, dpid1)
	require.NoError(t, err)
	require.Equal(t, domain.Metadata{"floor": float64(2)}, got)

	_, err = svc.GetMetadata(ctx, domain.KindInterface, dpid1+":99")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLivenessStatusWritePath(t *testing.T) {
	svc, events := newTestTopology(t)
	ctx := context.Background()
	link := seedPair(t, svc)

	require.ErrorIs(t, svc.SetLivenessStatus(ctx, "missing", domain.LivenessUp), domain.ErrNotFound)
	require.NoError(t, svc.SetLivenessStatus(ctx, link.ID, domain.LivenessUp))
	md, err := svc.GetMetadata(ctx, domain.KindLink, link.ID)
	require.NoError(t, err)
	require.Equal(t, "up", md[domain.LivenessStatusKey])

	var changed *Event
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventLivenessChanged {
			changed = &ev
		}
	}
	require.NotNil(t, changed)
	require.Equal(t, map[string]string{"link": link.ID, "status": "up"}, changed.Payload)

	require.NoError(t, svc.ClearLivenessStatus(ctx, link.ID))
	require.NoError(t, svc.ClearLivenessStatus(ctx, link.ID))
	md, err = svc.GetMetadata(ctx, domain.KindLink, link.ID)
	require.NoError(t, err)
	require.NotContains(t, md, domain.LivenessStatusKey)

	got, err := svc.GetLink(ctx, link.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
}

func TestSetLLDP(t *testing.T) {
	svc, _ := newTestTopology(t, WithEnableAll(true))
	ctx := context.Background()
	require.NoError(t, svc.HandleSwitchUp(ctx, dpid1, ports(2)))

	require.ErrorIs(t, svc.SetLLDP(ctx, nil, false), domain.ErrValidationFailed)
	require.ErrorIs(t, svc.SetLLDP(ctx, []string{dpid1 + ":7"}, false), domain.ErrNotFound)
	require.NoError(t, svc.SetLLDP(ctx, []string{dpid1 + ":2"}, false))

	ops, err := svc.OperationalInterfaces(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, dpid1+":1", ops[0].ID)
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	unlock := km.Lock("b", "a", "a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := km.Lock("a")
		close(acquired)
		u()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("lock on a acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a never acquired")
	}
	<-released

	km.mu.Lock()
	defer km.mu.Unlock()
	require.Empty(t, km.locks)
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe(ch)
	bus.Publish(Event{Type: EventSwitchEnabled})
	bus.Publish(Event{Type: EventSwitchDisabled})
	require.Equal(t, EventSwitchEnabled, (<-ch).Type)

	var nilBus *EventBus
	nilBus.Publish(Event{Type: EventSwitchEnabled})
}
