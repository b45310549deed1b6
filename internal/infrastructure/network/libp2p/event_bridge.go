package libp2p

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"syncore/internal/ctxsync"
	"syncore/internal/pkg/logging"
)

// EventBridge is a bounded single-producer (gossip subscription reader),
// single-consumer (pipeline admit) queue decoupling inbound wire arrival
// from DAG admission so a slow applier never blocks the pubsub read
// loop. Queue depth and drop count are exported as Prometheus metrics
// so they can be scraped rather than only logged.
type EventBridge struct {
	queue    chan bridgedDelta
	capacity int
	pipeline *ctxsync.Pipeline

	depth     prometheus.Gauge
	received  prometheus.Counter
	processed prometheus.Counter
	dropped   prometheus.Counter

	log *logging.Logger

	warnedAt time.Time
}

type bridgedDelta struct {
	contextID  string
	delta      *ctxsync.Delta
	sourcePeer string
}

// eventBridgeCapacity is the bounded queue depth.
const eventBridgeCapacity = 1000

// eventBridgeWarnThreshold is the fill ratio above which each enqueue
// logs a rate-limited depth warning.
const eventBridgeWarnThreshold = 0.8

func NewEventBridge(pipeline *ctxsync.Pipeline, registerer prometheus.Registerer) *EventBridge {
	b := &EventBridge{
		queue:    make(chan bridgedDelta, eventBridgeCapacity),
		capacity: eventBridgeCapacity,
		pipeline: pipeline,
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncore",
			Subsystem: "event_bridge",
			Name:      "queue_depth",
			Help:      "Current number of buffered inbound deltas awaiting admission.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncore",
			Subsystem: "event_bridge",
			Name:      "received_total",
			Help:      "Inbound deltas accepted onto the bridge queue.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncore",
			Subsystem: "event_bridge",
			Name:      "processed_total",
			Help:      "Deltas drained from the bridge queue into the pipeline.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncore",
			Subsystem: "event_bridge",
			Name:      "dropped_total",
			Help:      "Deltas dropped because the bridge queue was full.",
		}),
		log: logging.Default().Component("event_bridge"),
	}
	if registerer != nil {
		registerer.MustRegister(b.depth, b.received, b.processed, b.dropped)
	}
	return b
}

// Offer enqueues a delta received off the wire (gossip or reconcile
// stream). Non-blocking: if the queue is full the delta is dropped and
// counted, rather than stalling the transport's read loop.
func (b *EventBridge) Offer(contextID string, delta *ctxsync.Delta, sourcePeer string) bool {
	select {
	case b.queue <- bridgedDelta{contextID: contextID, delta: delta, sourcePeer: sourcePeer}:
		b.received.Inc()
		depth := len(b.queue)
		b.depth.Set(float64(depth))
		if float64(depth) >= eventBridgeWarnThreshold*float64(b.capacity) {
			now := time.Now()
			if now.Sub(b.warnedAt) > 5*time.Second {
				b.warnedAt = now
				b.log.Warn("event bridge queue nearing capacity", "depth", depth, "capacity", b.capacity)
			}
		}
		return true
	default:
		b.dropped.Inc()
		return false
	}
}

// Run drains the queue into the pipeline until ctx is cancelled. Intended
// to run as the bridge's single consumer goroutine.
func (b *EventBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-b.queue:
			b.depth.Set(float64(len(b.queue)))
			if err := b.pipeline.OnIncoming(ctx, item.contextID, item.delta, item.sourcePeer); err != nil {
				b.log.Warn("pipeline rejected bridged delta", "context", item.contextID, "id", item.delta.ID.String(), "err", err)
			}
			b.processed.Inc()
		}
	}
}

// Depth returns the current queue length, exercised by tests asserting
// the bounded-queue invariant.
func (b *EventBridge) Depth() int {
	return len(b.queue)
}
