package adapter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/codec"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/filter"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/result"
	"github.com/roach88/peersync/internal/transport"
)

// DefaultWorkers is the default PushAll concurrency.
const DefaultWorkers = 8

// Adapter runs changes through the sync state machine.
type Adapter struct {
	sink         Sink
	kinds        map[string]resource.Kind
	defaultKind  string
	codecs       map[string]codec.Codec
	filters      *filter.Set
	workers      int
	applyTimeout time.Duration
	strict       bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithKinds registers resource kinds. The first becomes the default kind.
// Without this option only the default facility kind is known.
func WithKinds(kinds ...resource.Kind) Option {
	return func(a *Adapter) {
		if len(kinds) == 0 {
			return
		}
		a.kinds = make(map[string]resource.Kind, len(kinds))
		for _, k := range kinds {
			k = k.WithDefaults()
			a.kinds[k.Name] = k
		}
		a.defaultKind = kinds[0].WithDefaults().Name
	}
}

// WithCodec sets the codec of kind. Kinds without one use codec.JSON.
func WithCodec(kind string, c codec.Codec) Option {
	return func(a *Adapter) {
		a.codecs[kind] = c
	}
}

// WithFilters sets the include filters. Default: include everything.
func WithFilters(s *filter.Set) Option {
	return func(a *Adapter) {
		a.filters = s
	}
}

// WithWorkers bounds PushAll concurrency. Default: 8 (DefaultWorkers).
func WithWorkers(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithApplyTimeout bounds the Applying step. Zero means the sink's own
// bounds (lock timeout, HTTP timeout) apply alone.
func WithApplyTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.applyTimeout = d
	}
}

// WithStrictTransitions panics on illegal state transitions. Tests only.
func WithStrictTransitions() Option {
	return func(a *Adapter) {
		a.strict = true
	}
}

// New creates an Adapter delivering to sink.
func New(sink Sink, opts ...Option) *Adapter {
	def := resource.DefaultKind()
	a := &Adapter{
		sink:        sink,
		kinds:       map[string]resource.Kind{def.Name: def},
		defaultKind: def.Name,
		codecs:      make(map[string]codec.Codec),
		workers:     DefaultWorkers,
	}
	for _, opt := range opts {
		opt(a)
	}
	for name, k := range a.kinds {
		if _, ok := a.codecs[name]; !ok {
			a.codecs[name] = codec.NewJSON(k)
		}
	}
	return a
}

// Kind returns the registered kind by name; empty selects the default.
func (a *Adapter) Kind(name string) (resource.Kind, bool) {
	if name == "" {
		name = a.defaultKind
	}
	k, ok := a.kinds[name]
	return k, ok
}

// Push runs one change to a terminal state. It never returns an error; the
// outcome carries the failure.
func (a *Adapter) Push(ctx context.Context, ch Change) result.Outcome {
	start := time.Now()
	m := newMachine(a.strict)
	out := result.Outcome{Op: string(ch.Op), Target: ch.target()}

	finish := func(kind result.Kind, reason string, err error) result.Outcome {
		out.Kind = kind
		out.Reason = reason
		out.Err = err
		out.State = m.state
		out.Elapsed = time.Since(start)
		logOutcome(out)
		return out
	}

	kind, ok := a.Kind(ch.Kind)
	if !ok {
		// Unknown kinds cannot be filtered or converted.
		m.to(result.StateConverting)
		m.to(result.StateConversionFailed)
		err := errs.New(errs.CodeConversionFailed, "unknown kind %q", ch.Kind)
		return finish(result.KindConversionFailed, err.Error(), err)
	}

	// Pending
	if include, reason := a.filters.Decide(kind.Name, ch.Object); !include {
		m.to(result.StateFiltered)
		if out.Target == "" {
			out.Target = filter.DocumentID(ch.Object)
		}
		return finish(result.KindFiltered, reason, nil)
	}

	// Converting
	m.to(result.StateConverting)
	obj, warnings, err := a.convert(kind, &ch)
	out.Warnings = warnings
	out.Target = ch.target()
	if err != nil {
		m.to(result.StateConversionFailed)
		return finish(result.KindConversionFailed, err.Error(), err)
	}

	// Applying
	m.to(result.StateApplying)
	applyCtx := ctx
	if a.applyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, a.applyTimeout)
		defer cancel()
	}
	applied, notes, err := a.sink.Apply(applyCtx, kind, ch, obj)
	out.Warnings = append(out.Warnings, notes...)
	switch {
	case err == nil:
		m.to(result.StateApplied)
		return finish(applied, "", nil)
	case errs.Retryable(err):
		m.to(result.StateLockTimeout)
		return finish(result.KindLockTimeout, err.Error(), err)
	default:
		m.to(result.StateError)
		return finish(result.KindFailed, transport.StatusText(err), err)
	}
}

// convert maps the domain object and resolves the target. ch.Target is
// filled in for publishes.
func (a *Adapter) convert(kind resource.Kind, ch *Change) (canon.Object, []string, error) {
	if ch.Op == OpRemoveChild {
		if ch.UID == "" {
			return canon.Object{}, nil, errs.New(errs.CodeConversionFailed, "remove_child requires a uid")
		}
		if err := ch.Target.Validate(); err != nil {
			return canon.Object{}, nil, errs.Wrap(errs.CodeConversionFailed, err, "invalid target")
		}
		return canon.Object{}, nil, nil
	}

	obj, warnings, err := a.codecs[kind.Name].ToCanonical(ch.Object)
	if err != nil {
		return canon.Object{}, warnings, err
	}

	switch ch.Op {
	case OpPublish:
		id, err := codec.Identity(obj)
		if err != nil {
			return canon.Object{}, warnings, err
		}
		if ch.Target != (resource.Identity{}) && ch.Target != id {
			return canon.Object{}, warnings, errs.New(errs.CodeConversionFailed, "document identity %s does not match target %s", id, ch.Target)
		}
		ch.Target = id
	case OpPatch, OpSetChild:
		if err := ch.Target.Validate(); err != nil {
			return canon.Object{}, warnings, errs.Wrap(errs.CodeConversionFailed, err, "invalid target")
		}
		if ch.Op == OpSetChild {
			if uid, ok := obj.GetString(kind.UIDKey); !ok || uid == "" {
				return canon.Object{}, warnings, &errs.Error{Code: errs.CodeConversionFailed, Message: "child requires a uid", Field: kind.UIDKey}
			}
		}
	default:
		return canon.Object{}, warnings, errs.New(errs.CodeConversionFailed, "unknown op %q", ch.Op)
	}
	return obj, warnings, nil
}

// PushAll pushes every change through a bounded worker pool. Outcomes keep
// input order; a failing item never stops the others.
func (a *Adapter) PushAll(ctx context.Context, changes []Change) result.Batch {
	return result.Flatten(a.pushAll(ctx, changes))
}

func (a *Adapter) pushAll(ctx context.Context, changes []Change) []result.Outcome {
	outcomes := make([]result.Outcome, len(changes))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, ch := range changes {
		g.Go(func() error {
			outcomes[i] = a.Push(ctx, ch)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func logOutcome(o result.Outcome) {
	attrs := []any{"op", o.Op, "target", o.Target, "outcome", string(o.Kind), "elapsed", o.Elapsed}
	switch {
	case o.Kind.Succeeded():
		slog.Info("push applied", attrs...)
	case o.Kind == result.KindFiltered:
		slog.Debug("push filtered", append(attrs, "reason", o.Reason)...)
	case o.Kind.Retryable():
		slog.Warn("push retryable", append(attrs, "reason", o.Reason)...)
	default:
		slog.Error("push failed", append(attrs, "reason", o.Reason, "code", string(errs.CodeOf(o.Err)))...)
	}
}
