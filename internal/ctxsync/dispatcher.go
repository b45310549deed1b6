package ctxsync

import (
	"context"
	"strings"
	"unicode"

	"syncore/internal/pkg/logging"
)

// HandlerFunc is an application-registered event handler entrypoint. It
// receives the event's payload and returns the payload of the derived
// delta it produces, or an error if the handler's own transaction should
// roll back. Per §4.5, handlers must be commutative, associative, and
// idempotent under replay, with no external I/O.
type HandlerFunc func(ctx context.Context, contextID string, eventData []byte) ([]byte, error)

// SubmitFunc re-enters the local-execution admission path with a
// handler-derived delta, so it is authored, applied, and broadcast like
// any locally produced delta. Wired by the orchestrator to the pipeline's
// local-submit entrypoint.
type SubmitFunc func(ctx context.Context, contextID string, parents []ID, payload []byte) error

// Dispatcher resolves a delta's event descriptors to registered handler
// entrypoints and invokes them, skipping invocation entirely for
// self-authored deltas to prevent reaction loops. Its routing shape is
// name-keyed handler lookup rather than interest-based fanout.
type Dispatcher struct {
	ourIdentity [32]byte
	handlers    map[string]HandlerFunc
	submit      SubmitFunc
	log         *logging.Logger
}

func NewDispatcher(ourIdentity [32]byte, submit SubmitFunc) *Dispatcher {
	return &Dispatcher{
		ourIdentity: ourIdentity,
		handlers:    make(map[string]HandlerFunc),
		submit:      submit,
		log:         logging.Default().Component("dispatcher"),
	}
}

// Register binds an event name (as it appears on Delta.Events) to a
// handler. The lookup key is the on_<event_name_snake_case> convention;
// Register applies the same conversion so callers may pass either form.
func (d *Dispatcher) Register(eventName string, handler HandlerFunc) {
	d.handlers[entrypointName(eventName)] = handler
}

// Dispatch is invoked with (contextID, applied delta, source peer) after
// every successful admission. It never fires handlers for a self-authored
// delta — including ones derived from an earlier handler invocation,
// which recursively carries this node's identity as author.
func (d *Dispatcher) Dispatch(ctx context.Context, contextID string, applied *Delta) {
	if applied.Author == d.ourIdentity {
		return
	}
	for _, ev := range applied.Events {
		handler, ok := d.handlers[entrypointName(ev.Name)]
		if !ok {
			continue
		}
		derivedPayload, err := handler(ctx, contextID, ev.Data)
		if err != nil {
			d.log.Warn("handler failed, triggering delta remains committed", "context", contextID, "event", ev.Name, "err", err)
			continue
		}
		if derivedPayload == nil {
			continue
		}
		if err := d.submit(ctx, contextID, []ID{applied.ID}, derivedPayload); err != nil {
			d.log.Warn("failed to submit handler-derived delta", "context", contextID, "event", ev.Name, "err", err)
		}
	}
}

func entrypointName(eventName string) string {
	if strings.HasPrefix(eventName, "on_") {
		return eventName
	}
	return "on_" + toSnakeCase(eventName)
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
