package connector

import (
	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// Sender accepts commands for transmission. onFinished, when non-nil, runs
// after the command's batch completed its round trip.
//
// Send is called while the model store holds its lock, so implementations
// must not call back into the store.
type Sender interface {
	Send(cmd protocol.Command, onFinished func())
}

// ModelSynchronizer turns local store mutations into commands.
type ModelSynchronizer struct {
	provider func() Sender
}

var _ model.Synchronizer = (*ModelSynchronizer)(nil)

// NewModelSynchronizer returns a synchronizer that sends through the Sender
// returned by provider at the time of each mutation. A nil provider or a nil
// Sender yields ErrNoConnection.
func NewModelSynchronizer(provider func() Sender) *ModelSynchronizer {
	return &ModelSynchronizer{provider: provider}
}

func (s *ModelSynchronizer) send(cmd protocol.Command) error {
	if s.provider == nil {
		return ErrNoConnection
	}
	sender := s.provider()
	if sender == nil {
		return ErrNoConnection
	}
	sender.Send(cmd, nil)
	return nil
}

// OnAdded sends a CreatePresentationModel command.
func (s *ModelSynchronizer) OnAdded(pm *model.PresentationModel) error {
	if pm.ClientSideOnly() {
		return nil
	}
	return s.send(protocol.CreateFromModel(pm))
}

// OnDeleted sends a DeletePresentationModel command.
func (s *ModelSynchronizer) OnDeleted(pm *model.PresentationModel) error {
	if pm.ClientSideOnly() {
		return nil
	}
	return s.send(protocol.DeletePresentationModel{PMID: pm.ID()})
}

// OnPropertyChanged sends a ValueChanged command.
func (s *ModelSynchronizer) OnPropertyChanged(attr *model.Attribute, oldValue, newValue any) error {
	if pm := attr.PresentationModel(); pm != nil && pm.ClientSideOnly() {
		return nil
	}
	return s.send(protocol.ValueChanged{
		AttributeID: attr.ID(),
		OldValue:    oldValue,
		NewValue:    newValue,
	})
}

// OnMetadataChanged sends a QualifierChanged command for qualifier changes.
// Other metadata is not synchronized.
func (s *ModelSynchronizer) OnMetadataChanged(attr *model.Attribute, name string, value any) error {
	if name != model.QualifierProperty {
		return nil
	}
	if pm := attr.PresentationModel(); pm != nil && pm.ClientSideOnly() {
		return nil
	}
	qualifier, _ := value.(string)
	return s.send(protocol.QualifierChanged{
		AttributeID:  attr.ID(),
		NewQualifier: qualifier,
	})
}
