package connector

import (
	"log/slog"

	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
)

// Applier applies incoming commands to a model store. Every mutation it makes
// is marked remote, so none of them is reported back to the peer.
type Applier struct {
	store  *model.Store
	strict bool
	logger *slog.Logger
}

// NewApplier creates an applier for store. In strict mode a ValueChanged whose
// old value does not match the current value is logged and ignored.
func NewApplier(store *model.Store, strict bool, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:  store,
		strict: strict,
		logger: logger.With("component", "applier"),
	}
}

// Apply applies cmd. Unknown ids are fatal errors; a value change to the
// current value is a no-op.
func (a *Applier) Apply(cmd protocol.Command) error {
	switch c := protocol.Normalize(cmd).(type) {
	case protocol.CreatePresentationModel:
		return a.create(c)
	case protocol.DeletePresentationModel:
		return a.delete(c)
	case protocol.ValueChanged:
		return a.valueChanged(c)
	case protocol.QualifierChanged:
		return a.qualifierChanged(c)
	case protocol.Empty:
		return nil
	case protocol.StartLongPoll, protocol.InterruptLongPoll:
		a.logger.Debug("ignoring control command", "kind", c.Kind().String())
		return nil
	default:
		return protocol.ErrUnknownCommand
	}
}

func (a *Applier) create(c protocol.CreatePresentationModel) error {
	if a.store.Contains(c.PMID) {
		return &model.Error{Op: "create", ID: c.PMID, Err: model.ErrModelExists}
	}

	attrs := make([]*model.Attribute, 0, len(c.Attributes))
	for _, ad := range c.Attributes {
		attrs = append(attrs, model.NewAttribute(a.store.Side(), ad.PropertyName, ad.Value,
			model.WithQualifier(ad.Qualifier),
			model.WithID(ad.ID)))
	}
	var opts []model.ModelOption
	if c.ClientSideOnly {
		opts = append(opts, model.WithClientSideOnly())
	}

	if err := a.store.AddFrom(model.Remote, model.NewPresentationModel(c.PMID, c.PMType, attrs, opts...)); err != nil {
		return err
	}
	a.logger.Debug("remote presentation model created", "pm_id", c.PMID, "pm_type", c.PMType)
	return nil
}

func (a *Applier) delete(c protocol.DeletePresentationModel) error {
	pm, ok := a.store.FindPresentationModelByID(c.PMID)
	if !ok {
		return &model.Error{Op: "delete", ID: c.PMID, Err: model.ErrModelNotFound}
	}
	if err := a.store.DeleteFrom(model.Remote, pm); err != nil {
		return err
	}
	a.logger.Debug("remote presentation model deleted", "pm_id", c.PMID)
	return nil
}

func (a *Applier) valueChanged(c protocol.ValueChanged) error {
	attr, ok := a.store.FindAttributeByID(c.AttributeID)
	if !ok {
		return &model.Error{Op: "value changed", ID: c.AttributeID, Err: model.ErrAttributeNotFound}
	}

	current := attr.Value()
	if model.ValuesEqual(current, c.NewValue) {
		return nil
	}
	if a.strict && !model.ValuesEqual(current, c.OldValue) {
		a.logger.Warn("ignoring stale value change",
			"attribute_id", c.AttributeID,
			"expected", c.OldValue,
			"current", current)
		return nil
	}

	if err := a.store.SetValue(attr, c.NewValue, model.Remote); err != nil {
		return err
	}
	a.logger.Debug("remote value applied", "attribute_id", c.AttributeID)
	return nil
}

func (a *Applier) qualifierChanged(c protocol.QualifierChanged) error {
	attr, ok := a.store.FindAttributeByID(c.AttributeID)
	if !ok {
		return &model.Error{Op: "qualifier changed", ID: c.AttributeID, Err: model.ErrAttributeNotFound}
	}
	return a.store.SetQualifier(attr, c.NewQualifier, model.Remote)
}
