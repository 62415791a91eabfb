package model

import "sync"

// PresentationModel is an ordered, named collection of attributes with a
// type tag and an identity unique within its store.
type PresentationModel struct {
	mu             sync.RWMutex
	id             string
	pmType         string
	clientSideOnly bool
	attributes     []*Attribute
	store          *Store
}

// ModelOption configures a PresentationModel at construction.
type ModelOption func(*PresentationModel)

// WithClientSideOnly marks the model as never transmitted to the peer.
func WithClientSideOnly() ModelOption {
	return func(pm *PresentationModel) {
		pm.clientSideOnly = true
	}
}

// NewPresentationModel creates a model owning attrs. An empty id is replaced
// by a generated one when the model is added to a store.
func NewPresentationModel(id, pmType string, attrs []*Attribute, opts ...ModelOption) *PresentationModel {
	pm := &PresentationModel{
		id:         id,
		pmType:     pmType,
		attributes: make([]*Attribute, 0, len(attrs)),
	}
	for _, opt := range opts {
		opt(pm)
	}
	for _, a := range attrs {
		if a == nil {
			continue
		}
		a.mu.Lock()
		if a.model == nil {
			a.model = pm
		}
		a.mu.Unlock()
		pm.attributes = append(pm.attributes, a)
	}
	return pm
}

// ID returns the model id.
func (pm *PresentationModel) ID() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.id
}

// Type returns the presentation model type.
func (pm *PresentationModel) Type() string {
	return pm.pmType
}

// ClientSideOnly reports whether the model is kept out of synchronization.
func (pm *PresentationModel) ClientSideOnly() bool {
	return pm.clientSideOnly
}

// Attributes returns the attributes in declaration order.
func (pm *PresentationModel) Attributes() []*Attribute {
	out := make([]*Attribute, len(pm.attributes))
	copy(out, pm.attributes)
	return out
}

// Attribute returns the first attribute with the given property name.
func (pm *PresentationModel) Attribute(propertyName string) (*Attribute, bool) {
	for _, a := range pm.attributes {
		if a.propertyName == propertyName {
			return a, true
		}
	}
	return nil, false
}

// Store returns the store the model is registered in, or nil.
func (pm *PresentationModel) Store() *Store {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.store
}
