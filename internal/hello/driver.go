package hello

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"topokeeper/internal/domain"
	"topokeeper/internal/logging"
	"topokeeper/internal/observability"
)

// DefaultWorkers bounds concurrent hello sends
const DefaultWorkers = 8

// Topology is the part of the topology manager the driver relies on
type Topology interface {
	OperationalInterfaces(ctx context.Context) ([]*domain.Interface, error)
	GetInterface(ctx context.Context, id string) (*domain.Interface, error)
	HandleAdjacency(ctx context.Context, local, remote string) (*domain.Link, bool, error)
}

// Consumer receives every hello accepted on an operational interface
type Consumer interface {
	ConsumeHello(local, remote string, at time.Time) bool
}

// Transport delivers an encoded frame out of an interface
type Transport interface {
	Send(ctx context.Context, interfaceID string, frame []byte) error
}

// Config holds driver settings
type Config struct {
	PollingTime time.Duration
	Workers     int
	TTL         uint16
}

// Driver emits hellos on every operational interface once per polling
// interval and turns received hellos into adjacencies
type Driver struct {
	topo      Topology
	consumer  Consumer
	transport Transport
	metrics   *observability.Metrics
	log       *logrus.Entry
	pool      *workerpool.WorkerPool
	ttl       uint16
	now       func() time.Time

	mu       sync.Mutex
	interval time.Duration
}

// NewDriver creates a hello driver
func NewDriver(topo Topology, consumer Consumer, transport Transport, cfg Config, metrics *observability.Metrics) *Driver {
	if cfg.PollingTime <= 0 {
		cfg.PollingTime = 3 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	return &Driver{
		topo:      topo,
		consumer:  consumer,
		transport: transport,
		metrics:   metrics,
		log:       logging.WithComponent("hello"),
		pool:      workerpool.New(cfg.Workers),
		ttl:       cfg.TTL,
		now:       time.Now,
		interval:  cfg.PollingTime,
	}
}

// PollingTime returns the current emission interval
func (d *Driver) PollingTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// SetPollingTime changes the emission interval from the next tick on
func (d *Driver) SetPollingTime(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
}

// Run emits hellos until ctx is cancelled, then drains the worker pool
func (d *Driver) Run(ctx context.Context) {
	defer d.pool.StopWait()

	d.EmitOnce(ctx)

	timer := time.NewTimer(d.PollingTime())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("hello emitter stopped")
			return
		case <-timer.C:
			d.EmitOnce(ctx)
			timer.Reset(d.PollingTime())
		}
	}
}

// EmitOnce sends one hello per operational, LLDP-enabled interface and
// waits for the sends to finish. It returns the number of interfaces.
func (d *Driver) EmitOnce(ctx context.Context) int {
	if ctx.Err() != nil || d.pool.Stopped() {
		return 0
	}
	ifaces, err := d.topo.OperationalInterfaces(ctx)
	if err != nil {
		d.log.WithError(err).Warn("failed to list operational interfaces")
		return 0
	}

	var wg sync.WaitGroup
	for _, iface := range ifaces {
		iface := iface
		wg.Add(1)
		d.pool.Submit(func() {
			defer wg.Done()
			err := d.send(ctx, iface)
			d.metrics.HelloSent(err)
			if err != nil {
				d.log.WithError(err).WithField("interface", iface.ID).Debug("hello not sent")
			}
		})
	}
	wg.Wait()
	return len(ifaces)
}

func (d *Driver) send(ctx context.Context, iface *domain.Interface) error {
	frame, err := Encode(iface.SwitchID, iface.PortNumber, d.ttl)
	if err != nil {
		return err
	}
	return errors.Wrapf(d.transport.Send(ctx, iface.ID, frame), "send on %s", iface.ID)
}

// HandleFrame processes a frame received on local. Frames arriving on
// interfaces that are not operational or are excluded from LLDP are
// dropped without error.
func (d *Driver) HandleFrame(ctx context.Context, local string, frame []byte) error {
	d.metrics.HelloReceived()

	h, err := Decode(frame)
	if err != nil {
		d.metrics.HelloIgnored(observability.ReasonMalformed)
		return errors.Wrapf(err, "hello on %s", local)
	}

	iface, err := d.topo.GetInterface(ctx, local)
	if err != nil {
		return errors.Wrapf(err, "hello on %s", local)
	}
	if !iface.Active {
		d.metrics.HelloIgnored(observability.ReasonNotOperational)
		return nil
	}
	if !iface.LLDP {
		d.metrics.HelloIgnored(observability.ReasonLLDPExcluded)
		return nil
	}

	remote := h.InterfaceID()
	if remote == local {
		d.metrics.HelloIgnored(observability.ReasonMalformed)
		return nil
	}

	_, created, adjErr := d.topo.HandleAdjacency(ctx, local, remote)
	if created {
		d.log.WithFields(logrus.Fields{"local": local, "remote": remote}).Info("adjacency discovered")
	}
	d.consumer.ConsumeHello(local, remote, d.now())

	if adjErr != nil {
		return errors.Wrapf(adjErr, "adjacency %s -> %s", remote, local)
	}
	return nil
}
