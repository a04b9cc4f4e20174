package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/runledger/internal/bus"
	"github.com/basket/runledger/internal/cron"
	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/eventstore"
	"github.com/basket/runledger/internal/otel"
)

// ErrNotInitialized is returned by operations that need a hydrated
// ledger before Init or Load has run. The failure is explicit rather
// than auto-initializing: silent lazy init hides ordering bugs in
// callers.
var ErrNotInitialized = errors.New("ledger not initialized: call Init or Load first")

const walQueueSize = 256

// Options configures a PersistentLedger.
type Options struct {
	// MaxEvents is the compaction retention bound.
	MaxEvents int

	// CompactIntervalMS schedules recurring background compaction.
	// 0 disables it.
	CompactIntervalMS int

	// CompactSchedule is an optional cron expression firing additional
	// background compaction passes.
	CompactSchedule string

	// EnableWAL makes LogEvent schedule a fire-and-forget durable
	// append. When false, events are memory-only until Save.
	EnableWAL bool
}

type walItem struct {
	ev event.RunEvent
	// flush marks a drain token: the writer closes it once every
	// earlier item has been applied.
	flush chan struct{}
}

// PersistentLedger layers asynchronous durability over an in-memory
// base ledger. Logged events hit memory synchronously and disk through
// a serial write queue whose order matches call order.
type PersistentLedger struct {
	base    *Ledger
	store   *eventstore.Store
	opts    Options
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics

	mu          sync.Mutex
	initialized bool
	closed      bool
	queue       chan walItem
	writerDone  chan struct{}
	scheduler   *cron.Scheduler
}

// PersistentOption configures a PersistentLedger.
type PersistentOption func(*PersistentLedger)

func WithLogger(logger *slog.Logger) PersistentOption {
	return func(p *PersistentLedger) { p.logger = logger }
}

func WithBus(b *bus.Bus) PersistentOption {
	return func(p *PersistentLedger) { p.bus = b }
}

func WithMetrics(m *otel.Metrics) PersistentOption {
	return func(p *PersistentLedger) { p.metrics = m }
}

// NewPersistent wraps the given base ledger and store. Call Init or
// Load before logging events.
func NewPersistent(store *eventstore.Store, base *Ledger, opts Options, popts ...PersistentOption) *PersistentLedger {
	if base == nil {
		base = New()
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 10000
	}
	p := &PersistentLedger{
		base:   base,
		store:  store,
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range popts {
		opt(p)
	}
	return p
}

// Store exposes the backing event store, for locking and teardown.
func (p *PersistentLedger) Store() *eventstore.Store { return p.store }

// Init hydrates memory from the store and starts the write queue and
// background compactor. Idempotent: subsequent calls are no-ops.
func (p *PersistentLedger) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := p.loadLocked(); err != nil {
		return err
	}
	p.startRuntimeLocked()
	p.initialized = true
	return nil
}

// Load replaces in-memory state from the store. Like Init it is an
// entry point: a fresh ledger pointed at existing storage becomes
// usable after Load.
func (p *PersistentLedger) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrNotInitialized
	}
	if err := p.loadLocked(); err != nil {
		return err
	}
	p.startRuntimeLocked()
	p.initialized = true
	return nil
}

func (p *PersistentLedger) loadLocked() error {
	records, err := p.store.ReadAll()
	if err != nil {
		return err
	}
	p.base.ImportEvents(records)
	return nil
}

func (p *PersistentLedger) startRuntimeLocked() {
	if p.queue != nil {
		return
	}
	p.queue = make(chan walItem, walQueueSize)
	p.writerDone = make(chan struct{})
	go p.writer()

	if p.opts.CompactIntervalMS > 0 || p.opts.CompactSchedule != "" {
		sched, err := cron.NewScheduler(cron.Config{
			Compact:  p.Compact,
			Logger:   p.logger,
			Interval: time.Duration(p.opts.CompactIntervalMS) * time.Millisecond,
			Schedule: p.opts.CompactSchedule,
		})
		if err != nil {
			p.logger.Error("background compaction disabled", "error", err)
			return
		}
		p.scheduler = sched
		sched.Start(context.Background())
	}
}

// writer applies queued appends in order. Failures are reported on the
// bus and the log; the LogEvent caller has already returned.
func (p *PersistentLedger) writer() {
	defer close(p.writerDone)
	for item := range p.queue {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		if p.metrics != nil {
			p.metrics.WALQueueDepth.Add(context.Background(), -1)
		}
		if err := p.store.Append(item.ev); err != nil {
			p.logger.Error("durable append failed",
				"event_id", item.ev.EventID, "task_id", item.ev.TaskID, "error", err)
			if p.bus != nil {
				p.bus.Publish(bus.TopicWALAppendFailed, bus.WALAppendFailedEvent{
					EventID: item.ev.EventID,
					TaskID:  item.ev.TaskID,
					Err:     err,
				})
			}
		}
	}
}

// LogEvent appends to memory synchronously and, when the WAL is
// enabled, schedules the durable append. The caller never blocks on
// disk I/O; durability is observable through later reads or Save.
func (p *PersistentLedger) LogEvent(ev event.RunEvent) (event.RunEvent, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ev, ErrNotInitialized
	}
	ev = p.base.LogEvent(ev)
	if p.opts.EnableWAL {
		if p.metrics != nil {
			p.metrics.WALQueueDepth.Add(context.Background(), 1)
		}
		// Enqueued under the ledger lock so queue order equals call
		// order and the queue can never be closed mid-send.
		p.queue <- walItem{ev: ev}
	}
	p.mu.Unlock()
	return ev, nil
}

// drain blocks until every append queued before the call has been
// applied to the store.
func (p *PersistentLedger) drain() {
	p.mu.Lock()
	queue := p.queue
	closed := p.closed
	if queue == nil || closed {
		p.mu.Unlock()
		return
	}
	fl := make(chan struct{})
	queue <- walItem{flush: fl}
	p.mu.Unlock()
	<-fl
}

// Save drains the write queue and synchronously rewrites the full
// in-memory set to the store. Checkpoint durability, e.g. before exit.
func (p *PersistentLedger) Save() error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.mu.Unlock()

	p.drain()
	start := time.Now()
	err := p.store.Rewrite(p.base.ExportEvents())
	if p.metrics != nil {
		p.metrics.SaveDuration.Record(context.Background(), time.Since(start).Seconds())
	}
	return err
}

// Compact drains the write queue first so no event is evicted before it
// is durable, delegates to the store, then reconciles memory with the
// compacted record set. Returns the evicted count.
func (p *PersistentLedger) Compact() (int, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return 0, ErrNotInitialized
	}
	p.mu.Unlock()

	p.drain()
	evicted, err := p.store.Compact(p.opts.MaxEvents)
	if err != nil {
		return 0, err
	}
	records, err := p.store.ReadAll()
	if err != nil {
		return evicted, err
	}
	p.base.ImportEvents(records)
	return evicted, nil
}

// StorageStats forwards to the store.
func (p *PersistentLedger) StorageStats() (eventstore.StorageStats, error) {
	return p.store.Stats()
}

// Events returns the in-memory event sequence.
func (p *PersistentLedger) Events() []event.RunEvent { return p.base.Events() }

// EventCount returns the in-memory event count.
func (p *PersistentLedger) EventCount() int { return p.base.EventCount() }

// ComputeMetrics forwards to the base ledger.
func (p *PersistentLedger) ComputeMetrics() Metrics { return p.base.ComputeMetrics() }

// ImportEvents passes through to the base ledger unchanged. Durability
// of imported events requires a subsequent Save.
func (p *PersistentLedger) ImportEvents(events []event.RunEvent) {
	p.base.ImportEvents(events)
}

// ExportEvents passes through to the base ledger.
func (p *PersistentLedger) ExportEvents() ([]event.RunEvent, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}
	p.mu.Unlock()
	return p.base.ExportEvents(), nil
}

// Destroy releases any held lock and stops the write queue and
// background compactor, draining pending appends first. It never
// deletes storage files; that is the store's own Destroy.
func (p *PersistentLedger) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.initialized = false
	queue := p.queue
	writerDone := p.writerDone
	sched := p.scheduler
	p.scheduler = nil
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if queue != nil {
		fl := make(chan struct{})
		queue <- walItem{flush: fl}
		<-fl
		close(queue)
		<-writerDone
	}
	return p.store.ReleaseLock()
}
