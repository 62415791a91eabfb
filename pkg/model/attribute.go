package model

import "sync"

// Tag classifies an attribute for UI binding selection.
type Tag string

// DefaultTag is the tag of attributes created without WithTag.
const DefaultTag Tag = "VALUE"

// Property names reported in ChangeEvent.Property and to the Synchronizer.
const (
	ValueProperty     = "value"
	QualifierProperty = "qualifier"
)

// ChangeEvent describes one attribute mutation.
type ChangeEvent struct {
	Attribute *Attribute
	Property  string // ValueProperty or QualifierProperty
	OldValue  any
	NewValue  any
	Origin    Origin
}

// Attribute is a single named, observable value cell.
type Attribute struct {
	id           string
	propertyName string
	tag          Tag

	// mu protects value, qualifier, model and store.
	mu        sync.RWMutex
	value     any
	qualifier string
	model     *PresentationModel
	store     *Store

	subs observers[ChangeEvent]
}

// AttributeOption configures an Attribute at construction.
type AttributeOption func(*Attribute)

// WithQualifier sets the attribute's initial qualifier.
func WithQualifier(qualifier string) AttributeOption {
	return func(a *Attribute) {
		a.qualifier = qualifier
	}
}

// WithTag sets the attribute's tag.
func WithTag(tag Tag) AttributeOption {
	return func(a *Attribute) {
		a.tag = tag
	}
}

// WithID overrides the generated id. Used when replaying a peer's attribute.
func WithID(id string) AttributeOption {
	return func(a *Attribute) {
		if id != "" {
			a.id = id
		}
	}
}

// NewAttribute creates an attribute whose id carries the given side suffix.
func NewAttribute(side Side, propertyName string, value any, opts ...AttributeOption) *Attribute {
	a := &Attribute{
		id:           newAttributeID(side),
		propertyName: propertyName,
		tag:          DefaultTag,
		value:        value,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the attribute id.
func (a *Attribute) ID() string {
	return a.id
}

// PropertyName returns the immutable property name.
func (a *Attribute) PropertyName() string {
	return a.propertyName
}

// Tag returns the attribute's tag.
func (a *Attribute) Tag() Tag {
	return a.tag
}

// Value returns the current value.
func (a *Attribute) Value() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// Qualifier returns the current qualifier, or "" if none.
func (a *Attribute) Qualifier() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.qualifier
}

// PresentationModel returns the owning model, or nil before construction.
func (a *Attribute) PresentationModel() *PresentationModel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Store returns the store the attribute is registered in, or nil.
func (a *Attribute) Store() *Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

// SetValue changes the value as a local mutation. When the attribute is
// registered, the change goes through the store: co-qualified attributes
// follow and one change is synchronized to the peer.
func (a *Attribute) SetValue(value any) error {
	if s := a.Store(); s != nil {
		return s.SetValue(a, value, Local)
	}

	a.mu.Lock()
	old := a.value
	changed := !ValuesEqual(old, value)
	if changed {
		a.value = value
	}
	a.mu.Unlock()

	if changed {
		a.subs.notify(ChangeEvent{Attribute: a, Property: ValueProperty, OldValue: old, NewValue: value, Origin: Local})
	}
	return nil
}

// SetQualifier changes the qualifier as a local mutation.
func (a *Attribute) SetQualifier(qualifier string) error {
	if s := a.Store(); s != nil {
		return s.SetQualifier(a, qualifier, Local)
	}

	a.mu.Lock()
	old := a.qualifier
	a.qualifier = qualifier
	a.mu.Unlock()

	if old != qualifier {
		a.subs.notify(ChangeEvent{Attribute: a, Property: QualifierProperty, OldValue: old, NewValue: qualifier, Origin: Local})
	}
	return nil
}

// OnChange registers fn to be called after every value or qualifier change,
// local or remote. This is the binding point for UI adapters.
func (a *Attribute) OnChange(fn func(ChangeEvent)) *Subscription {
	return a.subs.add(fn)
}

// swapValueLocked sets the value and returns the event to fire.
// The caller holds the store mutex.
func (a *Attribute) swapValueLocked(value any, origin Origin) ChangeEvent {
	a.mu.Lock()
	old := a.value
	a.value = value
	a.mu.Unlock()
	return ChangeEvent{Attribute: a, Property: ValueProperty, OldValue: old, NewValue: value, Origin: origin}
}

func (a *Attribute) bind(s *Store) {
	a.mu.Lock()
	a.store = s
	a.mu.Unlock()
}
