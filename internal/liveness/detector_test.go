package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"topokeeper/internal/domain"
)

const (
	s1p3 = "00:00:00:00:00:00:00:01:3"
	s2p2 = "00:00:00:00:00:00:00:02:2"
)

// fakeWriter records liveness writes per link
type fakeWriter struct {
	mu      sync.Mutex
	links   map[string]bool
	status  map[string]domain.LivenessStatus
	cleared []string
	fail    error
}

func newFakeWriter(links ...string) *fakeWriter {
	w := &fakeWriter{links: make(map[string]bool), status: make(map[string]domain.LivenessStatus)}
	for _, id := range links {
		w.links[id] = true
	}
	return w
}

func (w *fakeWriter) SetLivenessStatus(_ context.Context, linkID string, status domain.LivenessStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	if !w.links[linkID] {
		return domain.NewNotFoundError("link", linkID)
	}
	w.status[linkID] = status
	return nil
}

func (w *fakeWriter) ClearLivenessStatus(_ context.Context, linkID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.status, linkID)
	w.cleared = append(w.cleared, linkID)
	return nil
}

func (w *fakeWriter) get(linkID string) (domain.LivenessStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.status[linkID]
	return s, ok
}

func newTestDetector(w LinkWriter, start time.Time) (*Detector, *time.Time) {
	clock := start
	d := New(w, Config{PollingTime: time.Second, DeadMultiplier: 3}, nil)
	d.now = func() time.Time { return clock }
	return d, &clock
}

func TestConsumeHelloIgnoresUnmonitored(t *testing.T) {
	d, clock := newTestDetector(newFakeWriter(), time.Unix(1000, 0))
	require.False(t, d.ConsumeHello(s1p3, s2p2, *clock))
	require.Empty(t, d.Interfaces())
	require.Empty(t, d.Pairs())
}

func TestPairLifecycle(t *testing.T) {
	linkID := domain.LinkID(s1p3, s2p2)
	w := newFakeWriter(linkID)
	d, clock := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	for _, il := range d.Interfaces() {
		require.Equal(t, domain.LivenessDown, il.Status)
		require.Nil(t, il.LastHelloAt)
	}

	*clock = clock.Add(time.Second)
	require.True(t, d.ConsumeHello(s2p2, s1p3, *clock))
	d.Flush(ctx)
	status, ok := w.get(linkID)
	require.True(t, ok)
	require.Equal(t, domain.LivenessDown, status, "one side up keeps the pair down")

	require.True(t, d.ConsumeHello(s1p3, s2p2, *clock))
	d.Flush(ctx)
	status, _ = w.get(linkID)
	require.Equal(t, domain.LivenessUp, status)

	pairs := d.Pairs()
	require.Len(t, pairs, 1)
	require.Equal(t, s1p3, pairs[0].InterfaceA.ID)
	require.Equal(t, s2p2, pairs[0].InterfaceB.ID)
	require.Equal(t, domain.LivenessUp, pairs[0].Status)

	// s2p2 stops receiving; s1p3 keeps hearing hellos
	for i := 0; i < 4; i++ {
		*clock = clock.Add(time.Second)
		d.ConsumeHello(s1p3, s2p2, *clock)
		d.Evaluate(*clock)
	}
	d.Flush(ctx)
	status, _ = w.get(linkID)
	require.Equal(t, domain.LivenessDown, status)

	byID := map[string]domain.LivenessStatus{}
	for _, il := range d.Interfaces() {
		byID[il.ID] = il.Status
	}
	require.Equal(t, domain.LivenessUp, byID[s1p3])
	require.Equal(t, domain.LivenessDown, byID[s2p2])

	// recovery
	d.ConsumeHello(s2p2, s1p3, *clock)
	d.Flush(ctx)
	status, _ = w.get(linkID)
	require.Equal(t, domain.LivenessUp, status)
}

func TestEvaluateWithinWindowKeepsUp(t *testing.T) {
	d, clock := newTestDetector(newFakeWriter(), time.Unix(1000, 0))
	d.Enable([]string{s1p3})
	d.ConsumeHello(s1p3, s2p2, *clock)

	d.Evaluate(clock.Add(3 * time.Second))
	require.Equal(t, domain.LivenessUp, d.Interfaces()[0].Status)

	d.Evaluate(clock.Add(3*time.Second + time.Millisecond))
	require.Equal(t, domain.LivenessDown, d.Interfaces()[0].Status)
}

func TestDisableClearsLinkStatus(t *testing.T) {
	linkID := domain.LinkID(s1p3, s2p2)
	w := newFakeWriter(linkID)
	d, clock := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	d.ConsumeHello(s1p3, s2p2, *clock)
	d.ConsumeHello(s2p2, s1p3, *clock)
	d.Flush(ctx)

	d.Disable([]string{s1p3, s2p2})
	d.Flush(ctx)

	_, ok := w.get(linkID)
	require.False(t, ok)
	require.Equal(t, []string{linkID}, w.cleared)
	require.Empty(t, d.Interfaces())
	require.Empty(t, d.Pairs())
	require.False(t, d.IsMonitored(s1p3))
}

func TestWriteHeldUntilLinkCreated(t *testing.T) {
	linkID := domain.LinkID(s1p3, s2p2)
	w := newFakeWriter()
	d, clock := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	d.ConsumeHello(s1p3, s2p2, *clock)
	d.ConsumeHello(s2p2, s1p3, *clock)
	d.Flush(ctx)
	_, ok := w.get(linkID)
	require.False(t, ok)

	d.Flush(ctx)
	_, ok = w.get(linkID)
	require.False(t, ok, "missing link is not retried on every flush")

	w.mu.Lock()
	w.links[linkID] = true
	w.mu.Unlock()

	d.LinkCreated(ctx, &domain.Link{ID: linkID, EndpointA: domain.Endpoint{ID: s1p3}, EndpointB: domain.Endpoint{ID: s2p2}})
	d.Flush(ctx)
	status, ok := w.get(linkID)
	require.True(t, ok)
	require.Equal(t, domain.LivenessUp, status)
}

func TestAddPeersFormsDownPairBeforeHello(t *testing.T) {
	link := domain.NewLink(s1p3, s2p2)
	other := domain.NewLink(s1p3+"0", s2p2+"0")
	w := newFakeWriter(link.ID, other.ID)
	d, clock := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	d.AddPeers([]*domain.Link{link, other})
	d.Flush(ctx)

	pairs := d.Pairs()
	require.Len(t, pairs, 1, "links with an unmonitored endpoint are not paired")
	require.Equal(t, s1p3, pairs[0].InterfaceA.ID)
	require.Equal(t, s2p2, pairs[0].InterfaceB.ID)
	require.Equal(t, domain.LivenessDown, pairs[0].Status)
	status, ok := w.get(link.ID)
	require.True(t, ok)
	require.Equal(t, domain.LivenessDown, status)
	_, ok = w.get(other.ID)
	require.False(t, ok)

	// hellos stay blocked: evaluation keeps the pair down
	*clock = clock.Add(10 * time.Second)
	d.Evaluate(*clock)
	d.Flush(ctx)
	require.Equal(t, domain.LivenessDown, d.Pairs()[0].Status)

	d.AddPeers([]*domain.Link{link})
	d.ConsumeHello(s1p3, s2p2, *clock)
	d.ConsumeHello(s2p2, s1p3, *clock)
	d.Flush(ctx)
	require.Len(t, d.Pairs(), 1)
	status, _ = w.get(link.ID)
	require.Equal(t, domain.LivenessUp, status)
}

func TestLinkCreatedFormsDownPair(t *testing.T) {
	link := domain.NewLink(s1p3, s2p2)
	w := newFakeWriter(link.ID)
	d, _ := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	d.Flush(ctx)
	require.Empty(t, d.Pairs())

	d.LinkCreated(ctx, link)
	d.Flush(ctx)
	pairs := d.Pairs()
	require.Len(t, pairs, 1)
	require.Equal(t, domain.LivenessDown, pairs[0].Status)
	status, ok := w.get(link.ID)
	require.True(t, ok)
	require.Equal(t, domain.LivenessDown, status)
}

func TestStoreFailureRetried(t *testing.T) {
	linkID := domain.LinkID(s1p3, s2p2)
	w := newFakeWriter(linkID)
	w.fail = domain.NewStoreError("merge", context.DeadlineExceeded)
	d, clock := newTestDetector(w, time.Unix(1000, 0))
	ctx := context.Background()

	d.Enable([]string{s1p3, s2p2})
	d.ConsumeHello(s1p3, s2p2, *clock)
	d.Flush(ctx)
	_, ok := w.get(linkID)
	require.False(t, ok)

	w.mu.Lock()
	w.fail = nil
	w.mu.Unlock()
	d.Flush(ctx)
	status, ok := w.get(linkID)
	require.True(t, ok)
	require.Equal(t, domain.LivenessDown, status)
}

func TestReenableDiscardsStaleHello(t *testing.T) {
	d, clock := newTestDetector(newFakeWriter(), time.Unix(1000, 0))
	sent := *clock

	d.Enable([]string{s1p3})
	d.Disable([]string{s1p3})
	*clock = clock.Add(time.Second)
	d.Enable([]string{s1p3})

	require.False(t, d.ConsumeHello(s1p3, s2p2, sent))
	require.Equal(t, domain.LivenessDown, d.Interfaces()[0].Status)
}

func TestInterfacesFilter(t *testing.T) {
	d, _ := newTestDetector(newFakeWriter(), time.Unix(1000, 0))
	d.Enable([]string{s2p2, s1p3})

	all := d.Interfaces()
	require.Len(t, all, 2)
	require.Equal(t, s1p3, all[0].ID)

	filtered := d.Interfaces(s2p2, "00:00:00:00:00:00:00:09:1")
	require.Len(t, filtered, 1)
	require.Equal(t, s2p2, filtered[0].ID)
}

func TestSetPollingTime(t *testing.T) {
	d, clock := newTestDetector(newFakeWriter(), time.Unix(1000, 0))
	d.SetPollingTime(5 * time.Second)
	require.Equal(t, 5*time.Second, d.PollingTime())

	d.Enable([]string{s1p3})
	d.ConsumeHello(s1p3, s2p2, *clock)
	d.Evaluate(clock.Add(10 * time.Second))
	require.Equal(t, domain.LivenessUp, d.Interfaces()[0].Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	d := New(newFakeWriter(), Config{PollingTime: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
