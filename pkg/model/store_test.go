package model

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
)

type recordedChange struct {
	kind     string
	id       string
	oldValue any
	newValue any
}

type recordingSynchronizer struct {
	mu      sync.Mutex
	changes []recordedChange
	err     error
}

func (r *recordingSynchronizer) record(c recordedChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.changes = append(r.changes, c)
	return nil
}

func (r *recordingSynchronizer) OnAdded(pm *PresentationModel) error {
	return r.record(recordedChange{kind: "added", id: pm.ID()})
}

func (r *recordingSynchronizer) OnDeleted(pm *PresentationModel) error {
	return r.record(recordedChange{kind: "deleted", id: pm.ID()})
}

func (r *recordingSynchronizer) OnPropertyChanged(attr *Attribute, oldValue, newValue any) error {
	return r.record(recordedChange{kind: "value", id: attr.ID(), oldValue: oldValue, newValue: newValue})
}

func (r *recordingSynchronizer) OnMetadataChanged(attr *Attribute, name string, value any) error {
	return r.record(recordedChange{kind: name, id: attr.ID(), newValue: value})
}

func (r *recordingSynchronizer) snapshot() []recordedChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.changes)
}

func newTestStore(t *testing.T) (*Store, *recordingSynchronizer) {
	t.Helper()
	sync := &recordingSynchronizer{}
	return NewStore(ClientSide, sync), sync
}

func TestStore_AddRegistersModelAndAttributes(t *testing.T) {
	store, sync := newTestStore(t)
	attr := NewAttribute(ClientSide, "attr", "initialValue", WithQualifier("q1"))
	pm := NewPresentationModel("p1", "type", []*Attribute{attr})

	if err := store.Add(pm); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if got, ok := store.FindPresentationModelByID("p1"); !ok || got != pm {
		t.Fatalf("FindPresentationModelByID() = %v, %v", got, ok)
	}
	if got, ok := store.FindAttributeByID(attr.ID()); !ok || got != attr {
		t.Fatalf("FindAttributeByID() = %v, %v", got, ok)
	}
	if got := store.FindAllAttributesByQualifier("q1"); len(got) != 1 || got[0] != attr {
		t.Fatalf("FindAllAttributesByQualifier() = %v", got)
	}
	if attr.Store() != store || pm.Store() != store {
		t.Fatal("attribute and model should be bound to the store")
	}

	changes := sync.snapshot()
	if len(changes) != 1 || changes[0].kind != "added" || changes[0].id != "p1" {
		t.Fatalf("synchronizer changes = %+v, want one added p1", changes)
	}
}

func TestStore_AddDuplicateIDLeavesStoreUntouched(t *testing.T) {
	store, sync := newTestStore(t)
	first := NewPresentationModel("p1", "type", []*Attribute{NewAttribute(ClientSide, "a", 1)})
	if err := store.Add(first); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	dupAttr := NewAttribute(ClientSide, "b", 2, WithQualifier("dq"))
	second := NewPresentationModel("p1", "other", []*Attribute{dupAttr})
	err := store.Add(second)
	if !errors.Is(err, ErrModelExists) {
		t.Fatalf("Add() error = %v, want ErrModelExists", err)
	}

	if got, _ := store.FindPresentationModelByID("p1"); got != first {
		t.Fatal("original model was replaced")
	}
	if _, ok := store.FindAttributeByID(dupAttr.ID()); ok {
		t.Fatal("attribute of rejected model was registered")
	}
	if len(store.FindAllAttributesByQualifier("dq")) != 0 {
		t.Fatal("qualifier of rejected model was indexed")
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
	if len(sync.snapshot()) != 1 {
		t.Fatalf("rejected add was synchronized: %+v", sync.snapshot())
	}
}

func TestStore_AddTwoAttributesWithSameQualifierFails(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", "0", WithQualifier("QUAL"))
	b := NewAttribute(ClientSide, "b", "0", WithQualifier("QUAL"))
	pm := NewPresentationModel("", "type", []*Attribute{a, b})

	err := store.Add(pm)
	if !errors.Is(err, ErrDuplicateQualifier) {
		t.Fatalf("Add() error = %v, want ErrDuplicateQualifier", err)
	}
	var merr *Error
	if !errors.As(err, &merr) || merr.ID != "QUAL" {
		t.Fatalf("error context = %v, want qualifier QUAL", err)
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}
	if len(store.FindAllAttributesByQualifier("QUAL")) != 0 {
		t.Fatal("qualifier index should be empty")
	}
	if len(sync.snapshot()) != 0 {
		t.Fatal("nothing should have been synchronized")
	}
}

func TestStore_AddAssignsAutoIDWithSideSuffix(t *testing.T) {
	client := NewStore(ClientSide, nil)
	server := NewStore(ServerSide, nil)

	cpm := NewPresentationModel("", "t", nil)
	spm := NewPresentationModel("", "t", nil)
	if err := client.Add(cpm); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := server.Add(spm); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if !strings.HasSuffix(cpm.ID(), "-AUTO-CLT") {
		t.Errorf("client auto id = %q", cpm.ID())
	}
	if !strings.HasSuffix(spm.ID(), "-AUTO-SRV") {
		t.Errorf("server auto id = %q", spm.ID())
	}
}

func TestStore_AttributeIDsCarryOrigin(t *testing.T) {
	c := NewAttribute(ClientSide, "a", nil)
	s := NewAttribute(ServerSide, "a", nil)
	if !strings.HasSuffix(c.ID(), "C") || !strings.HasSuffix(s.ID(), "S") {
		t.Fatalf("ids = %q, %q", c.ID(), s.ID())
	}
	if c.ID() == s.ID() {
		t.Fatal("ids collide")
	}
	if got := NewAttribute(ClientSide, "a", nil, WithID("7S")).ID(); got != "7S" {
		t.Fatalf("WithID() id = %q", got)
	}
}

func TestStore_QualifierPropagationEmitsOneChange(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", "x", WithQualifier("q"))
	b := NewAttribute(ClientSide, "b", "x", WithQualifier("q"))
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{a})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Add(NewPresentationModel("p2", "t", []*Attribute{b})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	before := len(sync.snapshot())
	if err := a.SetValue("v"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	if b.Value() != "v" {
		t.Fatalf("co-qualified value = %v, want v", b.Value())
	}
	changes := sync.snapshot()[before:]
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one", changes)
	}
	if changes[0].kind != "value" || changes[0].id != a.ID() || changes[0].oldValue != "x" || changes[0].newValue != "v" {
		t.Fatalf("change = %+v", changes[0])
	}
}

func TestStore_SetValueEqualIsNoop(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", nil)
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{a})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	before := len(sync.snapshot())

	if err := a.SetValue(nil); err != nil {
		t.Fatalf("SetValue(nil) error: %v", err)
	}
	if err := a.SetValue(int64(3)); err != nil {
		t.Fatalf("SetValue(3) error: %v", err)
	}
	if err := a.SetValue(3.0); err != nil {
		t.Fatalf("SetValue(3.0) error: %v", err)
	}

	if got := len(sync.snapshot()) - before; got != 1 {
		t.Fatalf("changes = %d, want 1", got)
	}
}

func TestStore_RemoteSetValueIsSilent(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", "x", WithQualifier("q"))
	b := NewAttribute(ClientSide, "b", "x", WithQualifier("q"))
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{a})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Add(NewPresentationModel("p2", "t", []*Attribute{b})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	before := len(sync.snapshot())

	var observed []ChangeEvent
	sub := b.OnChange(func(e ChangeEvent) { observed = append(observed, e) })
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		if err := store.SetValue(a, i, Remote); err != nil {
			t.Fatalf("SetValue() error: %v", err)
		}
	}

	if got := len(sync.snapshot()) - before; got != 0 {
		t.Fatalf("remote changes produced %d synchronizations", got)
	}
	if !ValuesEqual(b.Value(), 4) {
		t.Fatalf("co-qualified value = %v, want 4", b.Value())
	}
	if len(observed) != 5 || observed[0].Origin != Remote {
		t.Fatalf("observed = %+v", observed)
	}
}

func TestStore_SynchronizerFailureRollsBack(t *testing.T) {
	failing := &recordingSynchronizer{err: errors.New("no connection")}
	store := NewStore(ClientSide, failing)

	a := NewAttribute(ClientSide, "a", "x")
	pm := NewPresentationModel("p1", "t", []*Attribute{a})
	if err := store.Add(pm); err == nil {
		t.Fatal("Add() expected error, got nil")
	}
	if store.Len() != 0 || a.Store() != nil {
		t.Fatal("failed add was not rolled back")
	}

	failing.err = nil
	if err := store.Add(pm); err != nil {
		t.Fatalf("Add() retry error: %v", err)
	}
	b := NewAttribute(ClientSide, "b", "x", WithQualifier("q"))
	c := NewAttribute(ClientSide, "c", "x", WithQualifier("q"))
	if err := store.Add(NewPresentationModel("p2", "t", []*Attribute{b, NewAttribute(ClientSide, "d", nil)})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Add(NewPresentationModel("p3", "t", []*Attribute{c})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	failing.err = errors.New("no connection")
	if err := b.SetValue("y"); err == nil {
		t.Fatal("SetValue() expected error, got nil")
	}
	if b.Value() != "x" || c.Value() != "x" {
		t.Fatalf("values after failed set = %v, %v; want x, x", b.Value(), c.Value())
	}
}

func TestStore_FailedDeleteKeepsModel(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", "x", WithQualifier("q"))
	pm := NewPresentationModel("p1", "t", []*Attribute{a})
	if err := store.Add(pm); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	sync.err = errors.New("no connection")
	if err := store.Delete(pm); err == nil {
		t.Fatal("Delete() expected error, got nil")
	}
	if !store.Contains("p1") || a.Store() != store {
		t.Fatal("failed delete unregistered the model")
	}
	if got, ok := store.FindAttributeByID(a.ID()); !ok || got != a {
		t.Fatal("failed delete dropped the attribute")
	}
	if len(store.FindAllAttributesByQualifier("q")) != 1 {
		t.Fatal("failed delete dropped the qualifier entry")
	}

	sync.err = nil
	if err := store.Delete(pm); err != nil {
		t.Fatalf("Delete() retry error: %v", err)
	}
	if store.Contains("p1") {
		t.Fatal("model still registered after delete")
	}
}

func TestStore_ClientSideOnlyModelIsNotSynchronized(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", 1)
	pm := NewPresentationModel("local", "t", []*Attribute{a}, WithClientSideOnly())

	if err := store.Add(pm); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := a.SetValue(2); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if err := store.Delete(pm); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if len(sync.snapshot()) != 0 {
		t.Fatalf("client-side-only changes synchronized: %+v", sync.snapshot())
	}
}

func TestStore_RemoveAndDelete(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", 1, WithQualifier("q"))
	p1 := NewPresentationModel("p1", "t", []*Attribute{a})
	p2 := NewPresentationModel("p2", "t", nil)
	for _, pm := range []*PresentationModel{p1, p2} {
		if err := store.Add(pm); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	before := len(sync.snapshot())

	if err := store.Remove(p1); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok := store.FindAttributeByID(a.ID()); ok {
		t.Fatal("attribute still registered after Remove")
	}
	if len(store.FindAllAttributesByQualifier("q")) != 0 {
		t.Fatal("qualifier index not cleaned")
	}
	if a.Store() != nil {
		t.Fatal("attribute still bound after Remove")
	}
	if len(sync.snapshot()) != before {
		t.Fatal("Remove should not synchronize")
	}

	if err := store.Remove(p1); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("second Remove() error = %v, want ErrModelNotFound", err)
	}

	if err := store.Delete(p2); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	changes := sync.snapshot()[before:]
	if len(changes) != 1 || changes[0].kind != "deleted" || changes[0].id != "p2" {
		t.Fatalf("changes = %+v, want deleted p2", changes)
	}
}

func TestStore_SetQualifier(t *testing.T) {
	store, sync := newTestStore(t)
	a := NewAttribute(ClientSide, "a", "shared", WithQualifier("q"))
	b := NewAttribute(ClientSide, "b", "mine")
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{a})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := store.Add(NewPresentationModel("p2", "t", []*Attribute{b})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	before := len(sync.snapshot())

	if err := b.SetQualifier("q"); err != nil {
		t.Fatalf("SetQualifier() error: %v", err)
	}
	if got := store.FindAllAttributesByQualifier("q"); len(got) != 2 {
		t.Fatalf("qualifier group size = %d, want 2", len(got))
	}
	if a.Value() != "mine" {
		t.Fatalf("existing member value = %v, want mine", a.Value())
	}
	changes := sync.snapshot()[before:]
	if len(changes) != 1 || changes[0].kind != QualifierProperty || changes[0].newValue != "q" {
		t.Fatalf("changes = %+v", changes)
	}

	if err := store.SetQualifier(b, "", Remote); err != nil {
		t.Fatalf("SetQualifier(remote) error: %v", err)
	}
	if got := store.FindAllAttributesByQualifier("q"); len(got) != 1 {
		t.Fatalf("qualifier group size = %d, want 1", len(got))
	}
	if len(sync.snapshot()) != before+1 {
		t.Fatal("remote qualifier change was synchronized")
	}
}

func TestStore_AddAlignsExistingQualifierGroup(t *testing.T) {
	store := NewStore(ClientSide, nil)
	existing := NewAttribute(ClientSide, "a", "old", WithQualifier("q"))
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{existing})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	incoming := NewAttribute(ServerSide, "b", "new", WithQualifier("q"))
	if err := store.AddFrom(Remote, NewPresentationModel("p2", "t", []*Attribute{incoming})); err != nil {
		t.Fatalf("AddFrom() error: %v", err)
	}
	if existing.Value() != "new" {
		t.Fatalf("existing value = %v, want new", existing.Value())
	}
}

func TestStore_ListPresentationModelIDsIsStableAndRestartable(t *testing.T) {
	store := NewStore(ClientSide, nil)
	for _, id := range []string{"c", "a", "b"} {
		if err := store.Add(NewPresentationModel(id, "t", nil)); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	seq := store.ListPresentationModelIDs()
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, []string{"c", "a", "b"}) || !slices.Equal(first, second) {
		t.Fatalf("ids = %v then %v", first, second)
	}

	for id := range seq {
		if id == "a" {
			break
		}
	}
}

func TestStore_FindAllPresentationModelsByType(t *testing.T) {
	store := NewStore(ServerSide, nil)
	for i, typ := range []string{"Person", "Address", "Person"} {
		pm := NewPresentationModel(string(rune('a'+i)), typ, nil)
		if err := store.Add(pm); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	got := store.FindAllPresentationModelsByType("Person")
	if len(got) != 2 || got[0].ID() != "a" || got[1].ID() != "c" {
		t.Fatalf("FindAllPresentationModelsByType() = %v", got)
	}
}

func TestStore_ObserversRunOutsideLock(t *testing.T) {
	store := NewStore(ClientSide, nil)
	a := NewAttribute(ClientSide, "a", 0)
	b := NewAttribute(ClientSide, "b", 0)
	if err := store.Add(NewPresentationModel("p1", "t", []*Attribute{a, b})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	sub := a.OnChange(func(e ChangeEvent) {
		// Re-entering the store from an observer must not deadlock.
		_ = b.SetValue(e.NewValue)
	})
	if err := a.SetValue(9); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if !ValuesEqual(b.Value(), 9) {
		t.Fatalf("b = %v, want 9", b.Value())
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if err := a.SetValue(10); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if !ValuesEqual(b.Value(), 9) {
		t.Fatal("observer fired after Unsubscribe")
	}
}

func TestStore_StoreEvents(t *testing.T) {
	store := NewStore(ClientSide, nil)
	var events []StoreEvent
	store.OnChange(func(e StoreEvent) { events = append(events, e) })

	pm := NewPresentationModel("p1", "t", nil)
	if err := store.AddFrom(Remote, pm); err != nil {
		t.Fatalf("AddFrom() error: %v", err)
	}
	store.Clear()

	if len(events) != 2 || events[0].Type != ModelAdded || events[1].Type != ModelRemoved {
		t.Fatalf("events = %+v", events)
	}
	if store.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", store.Len())
	}
}

func TestStore_ForeignAttributeIsRejected(t *testing.T) {
	s1 := NewStore(ClientSide, nil)
	s2 := NewStore(ClientSide, nil)
	a := NewAttribute(ClientSide, "a", 1)
	if err := s1.Add(NewPresentationModel("p1", "t", []*Attribute{a})); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := s2.SetValue(a, 2, Local); !errors.Is(err, ErrAttributeNotFound) {
		t.Fatalf("SetValue() error = %v, want ErrAttributeNotFound", err)
	}
	if err := s2.Add(NewPresentationModel("p2", "t", []*Attribute{a})); !errors.Is(err, ErrAttributeBound) {
		t.Fatalf("Add() error = %v, want ErrAttributeBound", err)
	}
	if !IsNotFound(s2.SetQualifier(a, "q", Local)) {
		t.Fatal("IsNotFound() = false for unknown attribute")
	}
}
