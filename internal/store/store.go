package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/patch"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/version"
)

// DefaultLockTimeout bounds how long a mutation waits for a resource lock.
const DefaultLockTimeout = 120 * time.Millisecond

// Persister receives every committed mutation while the entry lock is held.
// A returned error aborts the mutation.
type Persister interface {
	Save(ctx context.Context, r resource.Resource) error
	Delete(ctx context.Context, kind string, id resource.Identity) error
}

// Mutation reports the outcome of a successful store operation.
type Mutation struct {
	// Resource is the snapshot after the operation.
	Resource resource.Resource

	// Changed is false when the operation left the resource untouched.
	Changed bool

	// Created is true when the operation created the resource.
	Created bool

	// Warnings are advisory notes, such as generated child UIds.
	Warnings []string
}

// NoOp reports whether the operation was suppressed as a no-op.
func (m Mutation) NoOp() bool {
	return !m.Changed
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets the maximum lock wait.
// Default: 120ms (DefaultLockTimeout).
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithPersister installs a durable backend.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithClock sets the wall clock used for auto-assigned timestamps.
func WithClock(c version.Clock) Option {
	return func(s *Store) {
		s.guard = version.NewGuard(c)
	}
}

// WithUIDGenerator replaces the UUIDv7 generator for missing child UIds.
func WithUIDGenerator(g resource.UIDGenerator) Option {
	return func(s *Store) {
		s.uids = g
	}
}

// Store is the concurrent resource store.
type Store struct {
	entries     sync.Map // resource.Identity → *entry
	lockTimeout time.Duration
	persister   Persister
	guard       *version.Guard
	uids        resource.UIDGenerator
}

type entry struct {
	// lock is a one-slot semaphore; holding it means owning the entry.
	lock chan struct{}

	// snap is the published snapshot. nil until the first commit.
	snap atomic.Pointer[resource.Resource]

	// removed marks an entry unlinked by Delete. Guarded by lock.
	removed bool
}

func newEntry() *entry {
	return &entry{lock: make(chan struct{}, 1)}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		lockTimeout: DefaultLockTimeout,
		guard:       version.NewGuard(nil),
		uids:        resource.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire takes e's lock, waiting at most the lock timeout.
func (s *Store) acquire(ctx context.Context, e *entry, id resource.Identity) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case e.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return errs.New(errs.CodeLockTimeout, "lock not acquired within %s", s.lockTimeout).WithTarget(id.String())
	case <-ctx.Done():
		return errs.Wrap(errs.CodeLockTimeout, ctx.Err(), "lock wait cancelled").WithTarget(id.String())
	}
}

func (e *entry) release() {
	<-e.lock
}

// locked runs fn holding the lock of an existing resource.
func (s *Store) locked(ctx context.Context, id resource.Identity, fn func(e *entry, cur resource.Resource) (Mutation, error)) (Mutation, error) {
	v, ok := s.entries.Load(id)
	if !ok {
		return Mutation{}, notFound(id)
	}
	e := v.(*entry)
	if err := s.acquire(ctx, e, id); err != nil {
		return Mutation{}, err
	}
	defer e.release()

	cur := e.snap.Load()
	if cur == nil || e.removed {
		return Mutation{}, notFound(id)
	}
	return fn(e, *cur)
}

// commit persists next and publishes it. Called with e's lock held.
func (s *Store) commit(ctx context.Context, e *entry, next resource.Resource) error {
	sealed, err := next.Seal()
	if err != nil {
		return err
	}
	if s.persister != nil {
		if err := s.persister.Save(context.WithoutCancel(ctx), sealed); err != nil {
			return errs.Wrap(errs.CodePersistence, err, "persist mutation").WithTarget(sealed.Identity.String())
		}
	}
	e.snap.Store(&sealed)
	return nil
}

// Publish creates the resource on first publish or replaces its fields and
// children wholesale. The timestamp is admitted like a patch. Content equal
// to the stored state is a no-op.
//
// Children without a UId keep the UId of the stored child with the same
// public id; the rest get a generated one. UIds are resolved under the
// resource lock, so a republish never reassigns them.
func (s *Store) Publish(ctx context.Context, kind resource.Kind, obj canon.Object, allowDowngrade bool) (Mutation, error) {
	kind = kind.WithDefaults()
	party, _ := obj.GetString(resource.KeyPartyID)
	ident, _ := obj.GetString(resource.KeyID)
	id := resource.Identity{PartyID: party, ID: ident}
	if err := id.Validate(); err != nil {
		return Mutation{}, err
	}

	for {
		v, _ := s.entries.LoadOrStore(id, newEntry())
		e := v.(*entry)
		if err := s.acquire(ctx, e, id); err != nil {
			return Mutation{}, err
		}
		if e.removed {
			// Lost a race with Delete; the next LoadOrStore sees a fresh entry.
			e.release()
			continue
		}
		m, err := s.publishLocked(ctx, e, kind, obj, allowDowngrade)
		if err != nil && e.snap.Load() == nil {
			// Unlink the empty entry a failed first publish left behind.
			e.removed = true
			s.entries.CompareAndDelete(id, e)
		}
		e.release()
		return m, err
	}
}

func (s *Store) publishLocked(ctx context.Context, e *entry, kind resource.Kind, obj canon.Object, allowDowngrade bool) (Mutation, error) {
	cur := e.snap.Load()

	obj, warnings, err := resource.AssignChildUIDs(kind, obj, cur, s.uids)
	if err != nil {
		return Mutation{}, err
	}
	incoming, err := resource.FromObject(kind, obj)
	if err != nil {
		return Mutation{}, err
	}
	target := incoming.Identity.String()

	var existing time.Time
	if cur != nil {
		if cur.Kind.Name != kind.Name {
			return Mutation{}, errs.New(errs.CodeInvalidResource, "resource is of kind %s, not %s", cur.Kind.Name, kind.Name).WithTarget(target)
		}
		existing = cur.LastUpdated
	}

	ts, err := s.guard.Admit(existing, obj, allowDowngrade)
	if err != nil {
		return Mutation{}, withTarget(err, target)
	}

	if cur != nil && cur.SameContent(incoming) {
		slog.Debug("publish suppressed as no-op", "target", target, "hash", cur.ContentHash)
		return Mutation{Resource: *cur, Warnings: warnings}, nil
	}

	next := incoming
	next.LastUpdated = ts
	if err := s.commit(ctx, e, next); err != nil {
		return Mutation{}, err
	}

	published := *e.snap.Load()
	slog.Debug("resource published",
		"target", target,
		"kind", kind.Name,
		"created", cur == nil,
		"children", len(published.Children),
		"generated_uids", len(warnings),
		"hash", published.ContentHash,
	)
	return Mutation{Resource: published, Changed: true, Created: cur == nil, Warnings: warnings}, nil
}

// ApplyPatch admits, merges and re-hashes as one all-or-nothing transaction.
// A patch whose merge result equals the current fields is a no-op and does
// not advance last_updated.
func (s *Store) ApplyPatch(ctx context.Context, id resource.Identity, doc canon.Value, allowDowngrade bool) (Mutation, error) {
	patchDoc, ok := doc.(canon.Object)
	if !ok {
		return Mutation{}, errs.New(errs.CodeMalformedPatch, "patch must be an object, got %s", canon.TypeName(doc)).WithTarget(id.String())
	}

	return s.locked(ctx, id, func(e *entry, cur resource.Resource) (Mutation, error) {
		target := id.String()
		ts, err := s.guard.Admit(cur.LastUpdated, patchDoc, allowDowngrade)
		if err != nil {
			return Mutation{}, withTarget(err, target)
		}

		fields, err := patch.Apply(cur.Fields, patchDoc.Without(resource.KeyLastUpdated), cur.Kind.ProtectedKeys(), cur.Kind.PatchOptions()...)
		if err != nil {
			return Mutation{}, withTarget(err, target)
		}
		if canon.Equal(fields, cur.Fields) {
			slog.Debug("patch suppressed as no-op", "target", target)
			return Mutation{Resource: cur}, nil
		}

		next := cur
		next.Fields = fields
		next.LastUpdated = ts
		if err := s.commit(ctx, e, next); err != nil {
			return Mutation{}, err
		}
		published := *e.snap.Load()
		slog.Debug("patch applied",
			"target", target,
			"last_updated", version.Format(published.LastUpdated),
			"hash", published.ContentHash,
		)
		return Mutation{Resource: published, Changed: true}, nil
	})
}

// SetChild inserts child or replaces the child with the same UId in place.
// The parent's last_updated becomes the later of its own and the child's.
func (s *Store) SetChild(ctx context.Context, id resource.Identity, child resource.Child) (Mutation, error) {
	if child.UID == "" {
		return Mutation{}, errs.New(errs.CodeInvalidResource, "child requires a uid").WithTarget(id.String())
	}

	return s.locked(ctx, id, func(e *entry, cur resource.Resource) (Mutation, error) {
		children := make([]resource.Child, 0, len(cur.Children)+1)
		replaced := false
		for _, c := range cur.Children {
			if c.UID == child.UID {
				if canon.Equal(c.Canonical(cur.Kind), child.Canonical(cur.Kind)) {
					return Mutation{Resource: cur}, nil
				}
				c = child
				replaced = true
			}
			children = append(children, c)
		}
		if !replaced {
			children = append(children, child)
		}

		next := cur
		next.Children = children
		if child.LastUpdated.After(next.LastUpdated) {
			next.LastUpdated = child.LastUpdated
		}
		if err := s.commit(ctx, e, next); err != nil {
			return Mutation{}, err
		}
		slog.Debug("child set", "target", id.String(), "uid", child.UID, "replaced", replaced)
		return Mutation{Resource: *e.snap.Load(), Changed: true}, nil
	})
}

// RemoveChild removes the child with uid. Removing an absent child is a no-op.
func (s *Store) RemoveChild(ctx context.Context, id resource.Identity, uid string) (Mutation, error) {
	return s.locked(ctx, id, func(e *entry, cur resource.Resource) (Mutation, error) {
		idx := slices.IndexFunc(cur.Children, func(c resource.Child) bool { return c.UID == uid })
		if idx < 0 {
			return Mutation{Resource: cur}, nil
		}

		next := cur
		next.Children = slices.Delete(slices.Clone(cur.Children), idx, idx+1)
		if err := s.commit(ctx, e, next); err != nil {
			return Mutation{}, err
		}
		slog.Debug("child removed", "target", id.String(), "uid", uid)
		return Mutation{Resource: *e.snap.Load(), Changed: true}, nil
	})
}

// TryGetChild looks a child up by UId or public id. Never blocks.
func (s *Store) TryGetChild(id resource.Identity, ref string) (resource.Child, bool) {
	r, ok := s.Get(id)
	if !ok {
		return resource.Child{}, false
	}
	return r.Child(ref)
}

// Get returns the current snapshot of id. Never blocks.
func (s *Store) Get(id resource.Identity) (resource.Resource, bool) {
	v, ok := s.entries.Load(id)
	if !ok {
		return resource.Resource{}, false
	}
	snap := v.(*entry).snap.Load()
	if snap == nil {
		return resource.Resource{}, false
	}
	return *snap, true
}

// List returns a snapshot of every resource ordered by identity.
func (s *Store) List() []resource.Resource {
	var out []resource.Resource
	s.entries.Range(func(_, v any) bool {
		if snap := v.(*entry).snap.Load(); snap != nil {
			out = append(out, *snap)
		}
		return true
	})
	slices.SortFunc(out, func(a, b resource.Resource) int {
		return cmp.Or(
			cmp.Compare(a.Identity.PartyID, b.Identity.PartyID),
			cmp.Compare(a.Identity.ID, b.Identity.ID),
		)
	})
	return out
}

// Len returns the number of live resources.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, v any) bool {
		if v.(*entry).snap.Load() != nil {
			n++
		}
		return true
	})
	return n
}

// Delete removes id and its children.
func (s *Store) Delete(ctx context.Context, id resource.Identity) error {
	v, ok := s.entries.Load(id)
	if !ok {
		return notFound(id)
	}
	e := v.(*entry)
	if err := s.acquire(ctx, e, id); err != nil {
		return err
	}
	defer e.release()

	cur := e.snap.Load()
	if cur == nil || e.removed {
		return notFound(id)
	}
	if s.persister != nil {
		if err := s.persister.Delete(context.WithoutCancel(ctx), cur.Kind.Name, id); err != nil {
			return errs.Wrap(errs.CodePersistence, err, "persist delete").WithTarget(id.String())
		}
	}

	e.removed = true
	e.snap.Store(nil)
	s.entries.CompareAndDelete(id, e)
	slog.Debug("resource deleted", "target", id.String())
	return nil
}

// Restore seeds the store from persisted snapshots. Hashes are recomputed;
// the persister is not invoked. Existing entries are replaced, so Restore
// must run before the store is shared.
func (s *Store) Restore(resources ...resource.Resource) error {
	for _, r := range resources {
		sealed, err := r.Seal()
		if err != nil {
			return err
		}
		e := newEntry()
		e.snap.Store(&sealed)
		s.entries.Store(sealed.Identity, e)
	}
	return nil
}

func notFound(id resource.Identity) error {
	return errs.New(errs.CodeNotFound, "resource does not exist").WithTarget(id.String())
}

// withTarget annotates coded errors with the affected resource.
func withTarget(err error, target string) error {
	if e, ok := err.(*errs.Error); ok && e.Target == "" {
		return e.WithTarget(target)
	}
	return err
}
