package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/testutil"
)

var depotID = resource.Identity{PartyID: "P", ID: "A"}

func newTestStore(t *testing.T, opts ...Option) (*Store, *testutil.StepClock) {
	t.Helper()
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	return New(append([]Option{WithClock(clock)}, opts...)...), clock
}

func mustObject(t *testing.T, s string) canon.Object {
	t.Helper()
	obj, err := canon.ParseObject([]byte(s))
	require.NoError(t, err)
	return obj
}

func publishDepot(t *testing.T, s *Store) resource.Resource {
	t.Helper()
	m, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"party_id": "P",
		"id": "A",
		"name": "Depot",
		"children": [{"uid": "u1", "status": "AVAILABLE"}]
	}`), false)
	require.NoError(t, err)
	require.True(t, m.Created)
	return m.Resource
}

func canonicalBytes(t *testing.T, r resource.Resource) []byte {
	t.Helper()
	data, err := canon.MarshalCanonical(r.Document())
	require.NoError(t, err)
	return data
}

func TestPublish_CreatesWithClockTimestamp(t *testing.T) {
	s, _ := newTestStore(t)
	r := publishDepot(t, s)

	assert.Equal(t, depotID, r.Identity)
	assert.Equal(t, testutil.Epoch, r.LastUpdated)
	assert.NotEmpty(t, r.ContentHash)
	require.Len(t, r.Children, 1)

	got, ok := s.Get(depotID)
	require.True(t, ok)
	assert.Equal(t, r.ContentHash, got.ContentHash)
	assert.Equal(t, 1, s.Len())
}

func TestPublish_IdenticalContentIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)
	first := publishDepot(t, s)

	m, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"id": "A",
		"party_id": "P",
		"children": [{"status": "AVAILABLE", "uid": "u1"}],
		"name": "Depot"
	}`), false)
	require.NoError(t, err)
	assert.True(t, m.NoOp())
	assert.Equal(t, first.LastUpdated, m.Resource.LastUpdated)
	assert.Equal(t, first.ContentHash, m.Resource.ContentHash)
}

func TestPublish_ReplacesWholesale(t *testing.T) {
	s, _ := newTestStore(t)
	first := publishDepot(t, s)

	m, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"party_id": "P", "id": "A", "address": "Main St"
	}`), false)
	require.NoError(t, err)
	assert.True(t, m.Changed)
	assert.False(t, m.Created)
	assert.False(t, m.Resource.Fields.Has("name"))
	assert.Empty(t, m.Resource.Children)
	assert.True(t, m.Resource.LastUpdated.After(first.LastUpdated))
}

func TestPublish_StaleTimestampRejected(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	_, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"party_id": "P", "id": "A", "name": "Old", "last_updated": "2024-01-01T00:00:00Z"
	}`), false)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeStaleUpdate))

	got, _ := s.Get(depotID)
	name, _ := got.Fields.GetString("name")
	assert.Equal(t, "Depot", name)
}

func TestPublish_KindMismatch(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	_, err := s.Publish(context.Background(), resource.Kind{Name: "tariff"}, mustObject(t, `{"party_id":"P","id":"A"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidResource))
}

func TestPublish_InvalidDocument(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{"id":"A"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidResource))
	assert.Equal(t, 0, s.Len())
}

func TestPublish_ChildUIDsNeverReassigned(t *testing.T) {
	s, _ := newTestStore(t, WithUIDGenerator(testutil.NewSequenceUIDs("gen")))
	doc := `{"party_id":"P","id":"A","children":[{"public_id":"E1","status":"AVAILABLE"}]}`

	first, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, doc), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"children[0]: generated uid gen-0001"}, first.Warnings)

	second, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, doc), false)
	require.NoError(t, err)
	assert.True(t, second.NoOp())
	assert.Empty(t, second.Warnings)
	assert.Equal(t, first.Resource.ContentHash, second.Resource.ContentHash)

	c, ok := s.TryGetChild(depotID, "E1")
	require.True(t, ok)
	assert.Equal(t, "gen-0001", c.UID)
}

func TestPublish_ChildUIDResolution(t *testing.T) {
	s, _ := newTestStore(t, WithUIDGenerator(testutil.NewSequenceUIDs("gen")))
	_, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"party_id":"P","id":"A",
		"children":[{"uid":"u1","public_id":"E1"},{"uid":"u2","public_id":"E2"}]
	}`), false)
	require.NoError(t, err)

	// E2 is claimed explicitly by another child, so the uid-less E2 cannot
	// adopt u2; E1 keeps u1 and the child without a public id is new.
	m, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{
		"party_id":"P","id":"A",
		"children":[{"public_id":"E1"},{"uid":"u2","public_id":"E9"},{"public_id":"E2"},{"status":"AVAILABLE"}]
	}`), false)
	require.NoError(t, err)

	var uids []string
	for _, c := range m.Resource.Children {
		uids = append(uids, c.UID)
	}
	assert.Equal(t, []string{"u1", "u2", "gen-0001", "gen-0002"}, uids)
	assert.Equal(t, []string{
		"children[2]: generated uid gen-0001",
		"children[3]: generated uid gen-0002",
	}, m.Warnings)
}

func TestPublish_ConcurrentFirstPublishMintsOneUID(t *testing.T) {
	s, _ := newTestStore(t, WithUIDGenerator(testutil.NewSequenceUIDs("gen")), WithLockTimeout(time.Second))
	doc := mustObject(t, `{"party_id":"P","id":"A","children":[{"public_id":"E1"}]}`)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.Publish(context.Background(), resource.DefaultKind(), doc, false)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if m.Changed {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	c, ok := s.TryGetChild(depotID, "E1")
	require.True(t, ok)
	assert.Equal(t, "gen-0001", c.UID)
}

type failingUIDs struct{}

func (failingUIDs) NewUID() (string, error) { return "", errors.New("entropy exhausted") }

func TestPublish_UIDGeneratorFailure(t *testing.T) {
	s, _ := newTestStore(t, WithUIDGenerator(failingUIDs{}))

	_, err := s.Publish(context.Background(), resource.DefaultKind(), mustObject(t, `{"party_id":"P","id":"A","children":[{}]}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidResource))
	assert.ErrorContains(t, err, "entropy exhausted")

	_, ok := s.Get(depotID)
	assert.False(t, ok)
	_, loaded := s.entries.Load(depotID)
	assert.False(t, loaded, "failed first publish leaves no entry")
}

// End-to-end: a patch addressing the child collection is refused with no
// partial effect; a plain field patch advances the timestamp and the hash.
func TestApplyPatch_EndToEnd(t *testing.T) {
	s, _ := newTestStore(t)
	before := publishDepot(t, s)
	beforeBytes := canonicalBytes(t, before)

	_, err := s.ApplyPatch(context.Background(), depotID,
		mustObject(t, `{"name":"Renamed","children":[{"uid":"u9"}]}`), false)
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.CodeFieldProtected, e.Code)
	assert.Equal(t, "children", e.Field)
	assert.Equal(t, "P/A", e.Target)

	unchanged, _ := s.Get(depotID)
	assert.Equal(t, beforeBytes, canonicalBytes(t, unchanged))

	m, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"Depot 1"}`), false)
	require.NoError(t, err)
	assert.True(t, m.Changed)
	assert.True(t, m.Resource.LastUpdated.After(before.LastUpdated))
	assert.NotEqual(t, before.ContentHash, m.Resource.ContentHash)

	name, _ := m.Resource.Fields.GetString("name")
	assert.Equal(t, "Depot 1", name)
	assert.Len(t, m.Resource.Children, 1)
}

func TestApplyPatch_ProtectedIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	for _, doc := range []string{`{"id":"B"}`, `{"party_id":"Q"}`, `{"content_hash":"sha256:x"}`, `{"children":null}`} {
		_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, doc), false)
		assert.True(t, errs.IsCode(err, errs.CodeFieldProtected), doc)
	}
	_, ok := s.Get(depotID)
	assert.True(t, ok)
}

func TestApplyPatch_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)
	doc := mustObject(t, `{"name":"Depot 1","opening":{"mon":"8-18"}}`)

	first, err := s.ApplyPatch(context.Background(), depotID, doc, false)
	require.NoError(t, err)
	require.True(t, first.Changed)

	second, err := s.ApplyPatch(context.Background(), depotID, doc, false)
	require.NoError(t, err)
	assert.True(t, second.NoOp())
	assert.Equal(t, first.Resource.ContentHash, second.Resource.ContentHash)
	assert.Equal(t, first.Resource.LastUpdated, second.Resource.LastUpdated)
}

func TestApplyPatch_Monotonic(t *testing.T) {
	s, clock := newTestStore(t)
	publishDepot(t, s)

	explicit := mustObject(t, `{"name":"x","last_updated":"2030-01-01T00:00:00Z"}`)
	m, err := s.ApplyPatch(context.Background(), depotID, explicit, false)
	require.NoError(t, err)
	assert.Equal(t, 2030, m.Resource.LastUpdated.Year())

	// Same timestamp again is stale.
	_, err = s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"y","last_updated":"2030-01-01T00:00:00Z"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeStaleUpdate))

	// Clock is far behind the stored timestamp; auto-assignment stays monotonic.
	clock.Set(testutil.Epoch)
	m2, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"z"}`), false)
	require.NoError(t, err)
	assert.True(t, m2.Resource.LastUpdated.After(m.Resource.LastUpdated))

	// Administrative downgrade.
	m3, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"w","last_updated":"2020-01-01T00:00:00Z"}`), true)
	require.NoError(t, err)
	assert.Equal(t, 2020, m3.Resource.LastUpdated.Year())
}

func TestApplyPatch_Errors(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	_, err := s.ApplyPatch(context.Background(), resource.Identity{PartyID: "P", ID: "missing"}, mustObject(t, `{}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, err = s.ApplyPatch(context.Background(), depotID, canon.Array{}, false)
	assert.True(t, errs.IsCode(err, errs.CodeMalformedPatch))

	_, err = s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"last_updated":"tuesday"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeMalformedPatch))
}

func TestApplyPatch_ClosedKind(t *testing.T) {
	s, _ := newTestStore(t)
	kind := resource.Kind{Name: "facility", Fields: []string{"name"}}
	_, err := s.Publish(context.Background(), kind, mustObject(t, `{"party_id":"P","id":"A","name":"x"}`), false)
	require.NoError(t, err)

	_, err = s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"colour":"red"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeUnknownField))

	_, err = s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"y"}`), false)
	assert.NoError(t, err)
}

func TestSetChild_ReplaceNotDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)
	kind := resource.DefaultKind()

	extra, err := resource.NewChildBuilder(kind, "u2").Status("CHARGING").Build()
	require.NoError(t, err)
	m, err := s.SetChild(context.Background(), depotID, extra)
	require.NoError(t, err)
	require.Len(t, m.Resource.Children, 2)

	replacement, err := resource.NewChildBuilder(kind, "u1").Status("OUTOFORDER").Build()
	require.NoError(t, err)
	m, err = s.SetChild(context.Background(), depotID, replacement)
	require.NoError(t, err)
	require.Len(t, m.Resource.Children, 2)
	assert.Equal(t, "u1", m.Resource.Children[0].UID, "position preserved")
	assert.Equal(t, "OUTOFORDER", m.Resource.Children[0].Status)
	assert.Equal(t, "u2", m.Resource.Children[1].UID)

	again, err := s.SetChild(context.Background(), depotID, replacement)
	require.NoError(t, err)
	assert.True(t, again.NoOp())
}

func TestSetChild_AdvancesParentTimestamp(t *testing.T) {
	s, _ := newTestStore(t)
	parent := publishDepot(t, s)
	kind := resource.DefaultKind()

	later := parent.LastUpdated.Add(time.Hour)
	c, err := resource.NewChildBuilder(kind, "u2").LastUpdated(later).Build()
	require.NoError(t, err)
	m, err := s.SetChild(context.Background(), depotID, c)
	require.NoError(t, err)
	assert.Equal(t, later, m.Resource.LastUpdated)

	earlier, err := resource.NewChildBuilder(kind, "u3").LastUpdated(parent.LastUpdated.Add(-time.Hour)).Build()
	require.NoError(t, err)
	m, err = s.SetChild(context.Background(), depotID, earlier)
	require.NoError(t, err)
	assert.Equal(t, later, m.Resource.LastUpdated, "never moves backwards")
}

func TestSetChild_CopyOnWrite(t *testing.T) {
	s, _ := newTestStore(t)
	before := publishDepot(t, s)
	kind := resource.DefaultKind()

	c, err := resource.NewChildBuilder(kind, "u1").Status("CHARGING").Build()
	require.NoError(t, err)
	_, err = s.SetChild(context.Background(), depotID, c)
	require.NoError(t, err)

	assert.Equal(t, "AVAILABLE", before.Children[0].Status, "earlier snapshot unaffected")
}

func TestSetChild_UnknownParent(t *testing.T) {
	s, _ := newTestStore(t)
	c, err := resource.NewChildBuilder(resource.DefaultKind(), "u1").Build()
	require.NoError(t, err)

	_, err = s.SetChild(context.Background(), depotID, c)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, err = s.SetChild(context.Background(), depotID, resource.Child{})
	assert.True(t, errs.IsCode(err, errs.CodeInvalidResource))
}

func TestRemoveChild(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	m, err := s.RemoveChild(context.Background(), depotID, "missing")
	require.NoError(t, err)
	assert.True(t, m.NoOp())

	m, err = s.RemoveChild(context.Background(), depotID, "u1")
	require.NoError(t, err)
	assert.True(t, m.Changed)
	assert.Empty(t, m.Resource.Children)

	_, ok := s.TryGetChild(depotID, "u1")
	assert.False(t, ok)
}

func TestTryGetChild(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)
	c, err := resource.NewChildBuilder(resource.DefaultKind(), "u2").PublicID("EVSE-2").Build()
	require.NoError(t, err)
	_, err = s.SetChild(context.Background(), depotID, c)
	require.NoError(t, err)

	got, ok := s.TryGetChild(depotID, "EVSE-2")
	require.True(t, ok)
	assert.Equal(t, "u2", got.UID)

	_, ok = s.TryGetChild(resource.Identity{PartyID: "X", ID: "Y"}, "u1")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	publishDepot(t, s)

	require.NoError(t, s.Delete(context.Background(), depotID))
	_, ok := s.Get(depotID)
	assert.False(t, ok)
	assert.Empty(t, s.List())

	err := s.Delete(context.Background(), depotID)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	// Recreate after delete.
	r := publishDepot(t, s)
	assert.Equal(t, depotID, r.Identity)
}

func TestList_OrderedByIdentity(t *testing.T) {
	s, _ := newTestStore(t)
	for _, id := range []string{"C", "A", "B"} {
		_, err := s.Publish(context.Background(), resource.DefaultKind(),
			mustObject(t, fmt.Sprintf(`{"party_id":"P","id":%q}`, id)), false)
		require.NoError(t, err)
	}

	var ids []string
	for _, r := range s.List() {
		ids = append(ids, r.Identity.ID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

func TestRestore(t *testing.T) {
	src, _ := newTestStore(t)
	r := publishDepot(t, src)

	p := &recordingPersister{}
	dst, _ := newTestStore(t, WithPersister(p))
	require.NoError(t, dst.Restore(r))

	got, ok := dst.Get(depotID)
	require.True(t, ok)
	assert.Equal(t, r.ContentHash, got.ContentHash)
	assert.Empty(t, p.saved, "restore does not persist")
}

// recordingPersister records saves and optionally fails or blocks.
type recordingPersister struct {
	mu      sync.Mutex
	saved   []resource.Resource
	deleted []resource.Identity
	fail    error
	gate    chan struct{}
	entered chan struct{}
}

func (p *recordingPersister) Save(_ context.Context, r resource.Resource) error {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.saved = append(p.saved, r)
	return nil
}

func (p *recordingPersister) Delete(_ context.Context, _ string, id resource.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.deleted = append(p.deleted, id)
	return nil
}

func TestPersister_InvokedPerMutation(t *testing.T) {
	p := &recordingPersister{}
	s, _ := newTestStore(t, WithPersister(p))
	publishDepot(t, s)

	_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"Depot 1"}`), false)
	require.NoError(t, err)
	_, err = s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"Depot 1"}`), false)
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), depotID))

	require.Len(t, p.saved, 2, "no-op is not persisted")
	assert.NotEqual(t, p.saved[0].ContentHash, p.saved[1].ContentHash)
	assert.Equal(t, []resource.Identity{depotID}, p.deleted)
}

func TestPersister_FailureAbortsMutation(t *testing.T) {
	p := &recordingPersister{}
	s, _ := newTestStore(t, WithPersister(p))
	before := publishDepot(t, s)

	p.fail = errors.New("disk full")
	_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"Depot 1"}`), false)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodePersistence))
	assert.ErrorContains(t, err, "disk full")

	got, _ := s.Get(depotID)
	assert.Equal(t, before.ContentHash, got.ContentHash)

	err = s.Delete(context.Background(), depotID)
	assert.True(t, errs.IsCode(err, errs.CodePersistence))
	_, ok := s.Get(depotID)
	assert.True(t, ok)
}

func TestLockTimeout(t *testing.T) {
	p := &recordingPersister{}
	s, _ := newTestStore(t, WithPersister(p), WithLockTimeout(20*time.Millisecond))
	publishDepot(t, s)

	p.gate = make(chan struct{})
	p.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"slow"}`), false)
		done <- err
	}()
	<-p.entered // holder is inside the lock

	_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"fast"}`), false)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeLockTimeout))
	assert.True(t, errs.Retryable(err))

	// Readers are not blocked by a held lock.
	_, ok := s.Get(depotID)
	assert.True(t, ok)

	p.entered = nil
	close(p.gate)
	require.NoError(t, <-done)

	got, _ := s.Get(depotID)
	name, _ := got.Fields.GetString("name")
	assert.Equal(t, "slow", name)
}

func TestLockWait_ContextCancelled(t *testing.T) {
	p := &recordingPersister{}
	s, _ := newTestStore(t, WithPersister(p), WithLockTimeout(time.Minute))
	publishDepot(t, s)

	p.gate = make(chan struct{})
	p.entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := s.ApplyPatch(context.Background(), depotID, mustObject(t, `{"name":"slow"}`), false)
		done <- err
	}()
	<-p.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ApplyPatch(ctx, depotID, mustObject(t, `{"name":"fast"}`), false)
	assert.True(t, errs.IsCode(err, errs.CodeLockTimeout))
	assert.ErrorIs(t, err, context.Canceled)

	p.entered = nil
	close(p.gate)
	require.NoError(t, <-done)
}

// N workers × M disjoint resources: every resource ends with its last
// writer's value, no deadlock, no lost update.
func TestConcurrency_DisjointResources(t *testing.T) {
	s := New(WithLockTimeout(5 * time.Second))
	const resources = 16
	const writes = 25

	for i := 0; i < resources; i++ {
		_, err := s.Publish(context.Background(), resource.DefaultKind(),
			mustObject(t, fmt.Sprintf(`{"party_id":"P","id":"R%02d","n":0}`, i)), false)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < resources; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := resource.Identity{PartyID: "P", ID: fmt.Sprintf("R%02d", i)}
			for n := 1; n <= writes; n++ {
				_, err := s.ApplyPatch(context.Background(), id, canon.NewObject(canon.F("n", canon.Int(n))), false)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	for _, r := range s.List() {
		n, _ := r.Fields.Get("n")
		assert.Equal(t, canon.Int(writes), n, r.Identity.String())
	}
}

// Structural child mutations and field patches on one resource serialize.
func TestConcurrency_SameResourceSerialized(t *testing.T) {
	s := New(WithLockTimeout(5 * time.Second))
	kind := resource.DefaultKind()
	_, err := s.Publish(context.Background(), kind, mustObject(t, `{"party_id":"P","id":"A"}`), false)
	require.NoError(t, err)

	const workers = 8
	const perWorker = 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c, err := resource.NewChildBuilder(kind, fmt.Sprintf("w%d-%d", w, i)).Build()
				if !assert.NoError(t, err) {
					return
				}
				_, err = s.SetChild(context.Background(), depotID, c)
				assert.NoError(t, err)
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.ApplyPatch(context.Background(), depotID,
					canon.NewObject(canon.F(fmt.Sprintf("f%d", w), canon.Int(i))), false)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	r, ok := s.Get(depotID)
	require.True(t, ok)
	assert.Len(t, r.Children, workers*perWorker)
	assert.Equal(t, workers, r.Fields.Len())

	want, err := r.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, want, r.ContentHash, "hash matches published state")
}
