package liveness

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"topokeeper/internal/domain"
	"topokeeper/internal/logging"
	"topokeeper/internal/observability"
)

// DefaultDeadMultiplier is the number of missed polling intervals before an
// interface is declared down
const DefaultDeadMultiplier = 3

// LinkWriter is the write path into the reserved link metadata key
type LinkWriter interface {
	SetLivenessStatus(ctx context.Context, linkID string, status domain.LivenessStatus) error
	ClearLivenessStatus(ctx context.Context, linkID string) error
}

// Config holds detector timing
type Config struct {
	PollingTime    time.Duration
	DeadMultiplier int
}

// entry is the per-interface state of a monitored interface
type entry struct {
	id         string
	status     domain.LivenessStatus
	lastHello  time.Time
	enabledAt  time.Time
	generation uint64
}

func (e *entry) view() domain.InterfaceLiveness {
	out := domain.InterfaceLiveness{ID: e.id, Status: e.status}
	if !e.lastHello.IsZero() {
		t := e.lastHello
		out.LastHelloAt = &t
	}
	return out
}

// pair is two monitored interfaces joined by a link
type pair struct {
	linkID string
	a, b   string
	status domain.LivenessStatus
}

// writeOp is a pending link metadata update
type writeOp struct {
	status domain.LivenessStatus
	clear  bool
}

// Detector tracks hello arrival per monitored interface and derives the
// liveness of interface pairs. Pair transitions are written to link metadata
// by a single flusher, latest state first.
type Detector struct {
	writer  LinkWriter
	metrics *observability.Metrics
	log     *logrus.Entry
	now     func() time.Time

	mu             sync.Mutex
	interval       time.Duration
	deadMultiplier int
	entries        map[string]*entry
	pairs          map[string]*pair
	dirty          map[string]writeOp
	generation     uint64

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a detector; Run starts its background loops
func New(writer LinkWriter, cfg Config, metrics *observability.Metrics) *Detector {
	if cfg.PollingTime <= 0 {
		cfg.PollingTime = 3 * time.Second
	}
	if cfg.DeadMultiplier <= 0 {
		cfg.DeadMultiplier = DefaultDeadMultiplier
	}
	metrics.SetPollingTime(cfg.PollingTime)
	return &Detector{
		writer:         writer,
		metrics:        metrics,
		log:            logging.WithComponent("liveness"),
		now:            time.Now,
		interval:       cfg.PollingTime,
		deadMultiplier: cfg.DeadMultiplier,
		entries:        make(map[string]*entry),
		pairs:          make(map[string]*pair),
		dirty:          make(map[string]writeOp),
		wake:           make(chan struct{}, 1),
	}
}

// Run starts the evaluator and the metadata flusher and blocks until ctx is
// cancelled and both have returned
func (d *Detector) Run(ctx context.Context) {
	d.wg.Add(2)
	go d.evaluateLoop(ctx)
	go d.flushLoop(ctx)
	d.wg.Wait()
}

func (d *Detector) evaluateLoop(ctx context.Context) {
	defer d.wg.Done()
	timer := time.NewTimer(d.PollingTime())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.Evaluate(d.now())
			d.signal()
			timer.Reset(d.PollingTime())
		}
	}
}

func (d *Detector) flushLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			d.Flush(ctx)
		}
	}
}

func (d *Detector) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// PollingTime returns the current evaluation interval
func (d *Detector) PollingTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// SetPollingTime changes the interval; the next scheduled tick uses it
func (d *Detector) SetPollingTime(interval time.Duration) {
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
	d.metrics.SetPollingTime(interval)
}

// deadInterval is the silence after which an interface goes down. Caller holds mu.
func (d *Detector) deadInterval() time.Duration {
	return time.Duration(d.deadMultiplier) * d.interval
}

// Enable starts monitoring ids. Already monitored interfaces keep their state.
func (d *Detector) Enable(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, id := range ids {
		if _, ok := d.entries[id]; ok {
			continue
		}
		d.generation++
		d.entries[id] = &entry{
			id:         id,
			status:     domain.LivenessDown,
			enabledAt:  now,
			generation: d.generation,
		}
		d.log.WithField("interface", id).Debug("liveness monitoring enabled")
	}
	d.metrics.SetMonitored(len(d.entries))
}

// Disable stops monitoring ids, drops their pairs and clears the status
// written on the pairs' links
func (d *Detector) Disable(ids []string) {
	d.mu.Lock()
	for _, id := range ids {
		if _, ok := d.entries[id]; !ok {
			continue
		}
		delete(d.entries, id)
		for linkID, p := range d.pairs {
			if p.a == id || p.b == id {
				delete(d.pairs, linkID)
				d.dirty[linkID] = writeOp{clear: true}
			}
		}
		d.log.WithField("interface", id).Debug("liveness monitoring disabled")
	}
	d.metrics.SetMonitored(len(d.entries))
	d.mu.Unlock()
	d.signal()
}

// IsMonitored reports whether id is under liveness monitoring
func (d *Detector) IsMonitored(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[id]
	return ok
}

// AddPeers forms a down pair for every link whose endpoints are both
// monitored and not yet paired. The pair stays down until hellos arrive on
// both sides.
func (d *Detector) AddPeers(links []*domain.Link) {
	d.mu.Lock()
	added := false
	for _, link := range links {
		if d.addPeerLocked(link) {
			added = true
		}
	}
	d.mu.Unlock()
	if added {
		d.signal()
	}
}

// addPeerLocked pairs the endpoints of link. Caller holds mu.
func (d *Detector) addPeerLocked(link *domain.Link) bool {
	a, b := link.EndpointA.ID, link.EndpointB.ID
	if a == b {
		return false
	}
	if _, ok := d.pairs[link.ID]; ok {
		return false
	}
	ea, eb := d.entries[a], d.entries[b]
	if ea == nil || eb == nil {
		return false
	}
	if a > b {
		a, b = b, a
	}
	status := domain.JointStatus(ea.status, eb.status)
	d.pairs[link.ID] = &pair{linkID: link.ID, a: a, b: b, status: status}
	d.dirty[link.ID] = writeOp{status: status}
	d.log.WithField("link", link.ID).Debug("liveness pair formed")
	return true
}

// ConsumeHello records a hello received on local from remote. It returns
// false when local is not monitored or the hello predates its monitoring.
func (d *Detector) ConsumeHello(local, remote string, at time.Time) bool {
	d.mu.Lock()
	e, ok := d.entries[local]
	if !ok || at.Before(e.enabledAt) {
		d.mu.Unlock()
		return false
	}
	if at.After(e.lastHello) {
		e.lastHello = at
	}
	if e.status != domain.LivenessUp {
		e.status = domain.LivenessUp
		d.metrics.LivenessTransition(string(domain.LivenessUp))
		d.log.WithField("interface", local).Info("liveness up")
	}

	if _, ok := d.entries[remote]; ok && remote != local {
		linkID := domain.LinkID(local, remote)
		if _, exists := d.pairs[linkID]; !exists {
			a, b := local, remote
			if a > b {
				a, b = b, a
			}
			d.pairs[linkID] = &pair{linkID: linkID, a: a, b: b}
		}
	}
	changed := d.refreshPairs(local)
	d.mu.Unlock()

	if changed {
		d.signal()
	}
	return true
}

// refreshPairs recomputes pairs touching id. Caller holds mu.
func (d *Detector) refreshPairs(id string) bool {
	changed := false
	for linkID, p := range d.pairs {
		if p.a != id && p.b != id {
			continue
		}
		ea, eb := d.entries[p.a], d.entries[p.b]
		if ea == nil || eb == nil {
			continue
		}
		status := domain.JointStatus(ea.status, eb.status)
		if status == p.status {
			continue
		}
		p.status = status
		d.dirty[linkID] = writeOp{status: status}
		changed = true
	}
	return changed
}

// snapshot is an entry as seen by an evaluation pass
type snapshot struct {
	id         string
	generation uint64
	lastHello  time.Time
}

// Evaluate marks down every up interface silent for longer than the dead
// interval. Entries disabled or re-enabled during the pass are skipped.
func (d *Detector) Evaluate(now time.Time) {
	d.mu.Lock()
	dead := d.deadInterval()
	snaps := make([]snapshot, 0, len(d.entries))
	for _, e := range d.entries {
		if e.status == domain.LivenessUp {
			snaps = append(snaps, snapshot{id: e.id, generation: e.generation, lastHello: e.lastHello})
		}
	}
	d.mu.Unlock()

	var expired []snapshot
	for _, s := range snaps {
		if now.Sub(s.lastHello) > dead {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range expired {
		e, ok := d.entries[s.id]
		if !ok || e.generation != s.generation || e.lastHello.After(s.lastHello) {
			continue
		}
		e.status = domain.LivenessDown
		d.metrics.LivenessTransition(string(domain.LivenessDown))
		d.log.WithFields(logrus.Fields{
			"interface":  s.id,
			"last_hello": s.lastHello.Format(time.RFC3339),
		}).Warn("liveness down")
		d.refreshPairs(s.id)
	}
}

// Flush writes every pending pair transition. Writes for links that do not
// exist yet are dropped; LinkCreated queues the pair status again once the
// link is stored. Store failures are retried on the next flush.
func (d *Detector) Flush(ctx context.Context) {
	d.mu.Lock()
	ops := d.dirty
	d.dirty = make(map[string]writeOp)
	d.mu.Unlock()

	ids := make([]string, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, linkID := range ids {
		op := ops[linkID]
		var err error
		if op.clear {
			err = d.writer.ClearLivenessStatus(ctx, linkID)
		} else {
			err = d.writer.SetLivenessStatus(ctx, linkID, op.status)
		}
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			d.log.WithField("link", linkID).Debug("liveness status held until link is stored")
		default:
			d.log.WithError(err).WithField("link", linkID).Warn("failed to write liveness status")
			d.mu.Lock()
			if _, newer := d.dirty[linkID]; !newer {
				d.dirty[linkID] = op
			}
			d.mu.Unlock()
		}
	}
}

// LinkCreated queues the current pair status for a link that was just
// created, forming a down pair when both endpoints are monitored but have not
// exchanged hellos yet. Register it with the topology's link-created
// listeners.
func (d *Detector) LinkCreated(_ context.Context, link *domain.Link) {
	d.mu.Lock()
	queued := d.addPeerLocked(link)
	if p, ok := d.pairs[link.ID]; ok && !queued {
		d.dirty[link.ID] = writeOp{status: p.status}
		queued = true
	}
	d.mu.Unlock()
	if queued {
		d.signal()
	}
}

// Interfaces lists monitored interfaces sorted by id, optionally filtered
func (d *Detector) Interfaces(filter ...string) []domain.InterfaceLiveness {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.InterfaceLiveness
	if len(filter) > 0 {
		for _, id := range filter {
			if e, ok := d.entries[id]; ok {
				out = append(out, e.view())
			}
		}
	} else {
		for _, e := range d.entries {
			out = append(out, e.view())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if out == nil {
		out = []domain.InterfaceLiveness{}
	}
	return out
}

// Pairs lists known pairs sorted by their first interface
func (d *Detector) Pairs() []domain.LivenessPair {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.LivenessPair, 0, len(d.pairs))
	for _, p := range d.pairs {
		ea, eb := d.entries[p.a], d.entries[p.b]
		if ea == nil || eb == nil {
			continue
		}
		out = append(out, domain.LivenessPair{
			InterfaceA: ea.view(),
			InterfaceB: eb.view(),
			Status:     domain.JointStatus(ea.status, eb.status),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InterfaceA.ID != out[j].InterfaceA.ID {
			return out[i].InterfaceA.ID < out[j].InterfaceA.ID
		}
		return out[i].InterfaceB.ID < out[j].InterfaceB.ID
	})
	return out
}
