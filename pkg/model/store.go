package model

import (
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
)

// Synchronizer receives every synchronizable change of a store and turns it
// into a command for the peer. Implementations return an error when the
// change cannot be handed to a connector; the store treats it as fatal.
type Synchronizer interface {
	// OnAdded is called when a model is added locally.
	OnAdded(pm *PresentationModel) error

	// OnDeleted is called when a model is deleted locally.
	OnDeleted(pm *PresentationModel) error

	// OnPropertyChanged is called once per local value change.
	OnPropertyChanged(attr *Attribute, oldValue, newValue any) error

	// OnMetadataChanged is called for local qualifier changes.
	OnMetadataChanged(attr *Attribute, name string, value any) error
}

// NopSynchronizer ignores every change. Useful for stores that are never
// connected, such as fixtures in tests.
type NopSynchronizer struct{}

func (NopSynchronizer) OnAdded(*PresentationModel) error                { return nil }
func (NopSynchronizer) OnDeleted(*PresentationModel) error              { return nil }
func (NopSynchronizer) OnPropertyChanged(*Attribute, any, any) error    { return nil }
func (NopSynchronizer) OnMetadataChanged(*Attribute, string, any) error { return nil }

// StoreEventType identifies a registration change.
type StoreEventType int

const (
	// ModelAdded is fired after a model is registered.
	ModelAdded StoreEventType = iota

	// ModelRemoved is fired after a model is unregistered.
	ModelRemoved
)

// StoreEvent describes a registration change of the store.
type StoreEvent struct {
	Type   StoreEventType
	Model  *PresentationModel
	Origin Origin
}

// Store is the in-memory registry of presentation models for one session.
// It is never shared between sessions.
type Store struct {
	// mu serializes every mutation entry point.
	mu sync.Mutex

	side Side
	sync Synchronizer

	models     map[string]*PresentationModel
	order      []string
	attributes map[string]*Attribute
	qualifiers map[string][]*Attribute

	modelSubs observers[StoreEvent]
	attrSubs  observers[ChangeEvent]

	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store for the given side. A nil synchronizer
// is replaced by NopSynchronizer.
func NewStore(side Side, synchronizer Synchronizer, opts ...StoreOption) *Store {
	if synchronizer == nil {
		synchronizer = NopSynchronizer{}
	}
	s := &Store{
		side:       side,
		sync:       synchronizer,
		models:     make(map[string]*PresentationModel),
		attributes: make(map[string]*Attribute),
		qualifiers: make(map[string][]*Attribute),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "model_store", "side", string(side))
	return s
}

// Side returns the side the store lives on.
func (s *Store) Side() Side {
	return s.side
}

// Add registers pm as a local mutation.
func (s *Store) Add(pm *PresentationModel) error {
	return s.AddFrom(Local, pm)
}

// AddFrom registers pm. It fails without mutating the store when the id is
// already present or when two attributes of pm share a qualifier. Local,
// non client-side-only additions are reported to the Synchronizer; if that
// fails the registration is rolled back.
func (s *Store) AddFrom(origin Origin, pm *PresentationModel) error {
	if pm == nil {
		return newError("add", "", ErrModelNotFound)
	}

	s.mu.Lock()

	pm.mu.Lock()
	if pm.id == "" {
		pm.id = newModelID(s.side)
	}
	id := pm.id
	pm.mu.Unlock()

	if err := s.checkAddableLocked(pm); err != nil {
		s.mu.Unlock()
		return err
	}

	s.registerLocked(pm)

	if origin == Local && !pm.clientSideOnly {
		if err := s.sync.OnAdded(pm); err != nil {
			s.unregisterLocked(pm)
			s.mu.Unlock()
			return err
		}
	}

	// Existing co-qualified attributes adopt the values of the new ones.
	var events []ChangeEvent
	for _, a := range pm.attributes {
		events = append(events, s.propagateLocked(a, a.Value(), Remote)...)
	}

	s.mu.Unlock()

	s.logger.Debug("presentation model added",
		"pm_id", id,
		"pm_type", pm.pmType,
		"origin", origin.String(),
		"attributes", len(pm.attributes))

	s.fire(events)
	s.modelSubs.notify(StoreEvent{Type: ModelAdded, Model: pm, Origin: origin})
	return nil
}

func (s *Store) checkAddableLocked(pm *PresentationModel) error {
	if _, exists := s.models[pm.id]; exists {
		return newError("add", pm.id, ErrModelExists)
	}

	seen := make(map[string]struct{}, len(pm.attributes))
	for _, a := range pm.attributes {
		a.mu.RLock()
		q, owner, bound := a.qualifier, a.model, a.store != nil
		a.mu.RUnlock()

		if bound || owner != pm {
			return newError("add", a.id, ErrAttributeBound)
		}
		if _, dup := s.attributes[a.id]; dup {
			return newError("add", a.id, ErrAttributeBound)
		}
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			return newError("add", q, ErrDuplicateQualifier)
		}
		seen[q] = struct{}{}
	}
	return nil
}

func (s *Store) registerLocked(pm *PresentationModel) {
	s.models[pm.id] = pm
	s.order = append(s.order, pm.id)

	pm.mu.Lock()
	pm.store = s
	pm.mu.Unlock()

	for _, a := range pm.attributes {
		s.attributes[a.id] = a
		if q := a.Qualifier(); q != "" {
			s.qualifiers[q] = append(s.qualifiers[q], a)
		}
		a.bind(s)
	}
}

func (s *Store) unregisterLocked(pm *PresentationModel) {
	for _, a := range pm.attributes {
		delete(s.attributes, a.id)
		if q := a.Qualifier(); q != "" {
			s.unindexLocked(q, a)
		}
		a.bind(nil)
	}

	pm.mu.Lock()
	pm.store = nil
	pm.mu.Unlock()

	delete(s.models, pm.id)
	if i := slices.Index(s.order, pm.id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

func (s *Store) unindexLocked(q string, a *Attribute) {
	peers := s.qualifiers[q]
	if i := slices.Index(peers, a); i >= 0 {
		peers = slices.Delete(peers, i, i+1)
	}
	if len(peers) == 0 {
		delete(s.qualifiers, q)
		return
	}
	s.qualifiers[q] = peers
}

// Remove unregisters pm. It emits no command; use Delete to also notify
// the peer.
func (s *Store) Remove(pm *PresentationModel) error {
	return s.remove(Local, pm, false)
}

// Delete unregisters pm as a local mutation and reports it to the Synchronizer.
func (s *Store) Delete(pm *PresentationModel) error {
	return s.DeleteFrom(Local, pm)
}

// DeleteFrom unregisters pm. Local deletions of synchronized models are
// reported to the Synchronizer.
func (s *Store) DeleteFrom(origin Origin, pm *PresentationModel) error {
	return s.remove(origin, pm, true)
}

func (s *Store) remove(origin Origin, pm *PresentationModel, notify bool) error {
	if pm == nil {
		return newError("remove", "", ErrModelNotFound)
	}

	s.mu.Lock()
	registered, ok := s.models[pm.ID()]
	if !ok || registered != pm {
		s.mu.Unlock()
		return newError("remove", pm.ID(), ErrModelNotFound)
	}

	if notify && origin == Local && !pm.clientSideOnly {
		if err := s.sync.OnDeleted(pm); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.unregisterLocked(pm)
	s.mu.Unlock()

	s.logger.Debug("presentation model removed", "pm_id", pm.id, "origin", origin.String())

	s.modelSubs.notify(StoreEvent{Type: ModelRemoved, Model: pm, Origin: origin})
	return nil
}

// SetValue changes attr's value. Equal values are a no-op. Every other
// attribute sharing attr's qualifier takes the new value in the same
// operation. Local changes are reported once, for attr only; if the report
// fails, all values are restored and the error is returned.
func (s *Store) SetValue(attr *Attribute, value any, origin Origin) error {
	s.mu.Lock()

	if !s.ownsLocked(attr) {
		s.mu.Unlock()
		return newError("set value", attr.ID(), ErrAttributeNotFound)
	}

	old := attr.Value()
	if ValuesEqual(old, value) {
		s.mu.Unlock()
		return nil
	}

	events := []ChangeEvent{attr.swapValueLocked(value, origin)}
	events = append(events, s.propagateLocked(attr, value, origin)...)

	if origin == Local && !attr.model.clientSideOnly {
		if err := s.sync.OnPropertyChanged(attr, old, value); err != nil {
			for i := len(events) - 1; i >= 0; i-- {
				events[i].Attribute.swapValueLocked(events[i].OldValue, origin)
			}
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.fire(events)
	return nil
}

// propagateLocked copies value to every other attribute sharing src's qualifier.
func (s *Store) propagateLocked(src *Attribute, value any, origin Origin) []ChangeEvent {
	q := src.Qualifier()
	if q == "" {
		return nil
	}
	var events []ChangeEvent
	for _, peer := range s.qualifiers[q] {
		if peer == src || ValuesEqual(peer.Value(), value) {
			continue
		}
		events = append(events, peer.swapValueLocked(value, origin))
	}
	return events
}

// SetQualifier changes attr's qualifier and reindexes it. Attributes already
// carrying the new qualifier adopt attr's value. Local changes are reported
// to the Synchronizer.
func (s *Store) SetQualifier(attr *Attribute, qualifier string, origin Origin) error {
	s.mu.Lock()

	if !s.ownsLocked(attr) {
		s.mu.Unlock()
		return newError("set qualifier", attr.ID(), ErrAttributeNotFound)
	}

	old := attr.Qualifier()
	if old == qualifier {
		s.mu.Unlock()
		return nil
	}

	s.requalifyLocked(attr, old, qualifier)

	if origin == Local && !attr.model.clientSideOnly {
		if err := s.sync.OnMetadataChanged(attr, QualifierProperty, qualifier); err != nil {
			s.requalifyLocked(attr, qualifier, old)
			s.mu.Unlock()
			return err
		}
	}

	events := []ChangeEvent{{Attribute: attr, Property: QualifierProperty, OldValue: old, NewValue: qualifier, Origin: origin}}
	events = append(events, s.propagateLocked(attr, attr.Value(), origin)...)
	s.mu.Unlock()

	s.fire(events)
	return nil
}

func (s *Store) requalifyLocked(attr *Attribute, from, to string) {
	if from != "" {
		s.unindexLocked(from, attr)
	}
	attr.mu.Lock()
	attr.qualifier = to
	attr.mu.Unlock()
	if to != "" {
		s.qualifiers[to] = append(s.qualifiers[to], attr)
	}
}

func (s *Store) ownsLocked(attr *Attribute) bool {
	if attr == nil {
		return false
	}
	registered, ok := s.attributes[attr.id]
	return ok && registered == attr
}

func (s *Store) fire(events []ChangeEvent) {
	for _, e := range events {
		e.Attribute.subs.notify(e)
		s.attrSubs.notify(e)
	}
}

// FindPresentationModelByID returns the model registered under id.
func (s *Store) FindPresentationModelByID(id string) (*PresentationModel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.models[id]
	return pm, ok
}

// FindAttributeByID returns the attribute registered under id.
func (s *Store) FindAttributeByID(id string) (*Attribute, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attributes[id]
	return a, ok
}

// FindAllAttributesByQualifier returns the attributes sharing qualifier.
func (s *Store) FindAllAttributesByQualifier(qualifier string) []*Attribute {
	if qualifier == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.qualifiers[qualifier])
}

// FindAllPresentationModelsByType returns the models of pmType in insertion order.
func (s *Store) FindAllPresentationModelsByType(pmType string) []*PresentationModel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*PresentationModel
	for _, id := range s.order {
		if pm := s.models[id]; pm.pmType == pmType {
			out = append(out, pm)
		}
	}
	return out
}

// Contains reports whether a model with id is registered.
func (s *Store) Contains(id string) bool {
	_, ok := s.FindPresentationModelByID(id)
	return ok
}

// Len returns the number of registered models.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

// ListPresentationModelIDs returns a restartable sequence of model ids in
// insertion order. Each iteration works on a snapshot taken when it starts.
func (s *Store) ListPresentationModelIDs() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		ids := slices.Clone(s.order)
		s.mu.Unlock()

		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// OnChange registers fn for model registration changes.
func (s *Store) OnChange(fn func(StoreEvent)) *Subscription {
	return s.modelSubs.add(fn)
}

// OnAttributeChange registers fn for value and qualifier changes of every
// attribute in the store.
func (s *Store) OnAttributeChange(fn func(ChangeEvent)) *Subscription {
	return s.attrSubs.add(fn)
}

// Clear removes every model without notifying the Synchronizer. Used when the
// owning session ends.
func (s *Store) Clear() {
	s.mu.Lock()
	models := make([]*PresentationModel, 0, len(s.order))
	for _, id := range s.order {
		models = append(models, s.models[id])
	}
	for _, pm := range models {
		s.unregisterLocked(pm)
	}
	s.mu.Unlock()

	for _, pm := range models {
		s.modelSubs.notify(StoreEvent{Type: ModelRemoved, Model: pm, Origin: Remote})
	}
}

// IsNotFound reports whether err means a model or attribute was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound) || errors.Is(err, ErrAttributeNotFound)
}
