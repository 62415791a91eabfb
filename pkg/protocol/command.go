package protocol

import (
	"github.com/vango-dev/remoting/pkg/model"
)

// Kind identifies the type of a command.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindCreatePresentationModel
	KindDeletePresentationModel
	KindValueChanged
	KindQualifierChanged
	KindStartLongPoll
	KindInterruptLongPoll
)

var kindNames = [...]string{
	KindEmpty:                   "Empty",
	KindCreatePresentationModel: "CreatePresentationModel",
	KindDeletePresentationModel: "DeletePresentationModel",
	KindValueChanged:            "ValueChanged",
	KindQualifierChanged:        "QualifierChanged",
	KindStartLongPoll:           "StartLongPoll",
	KindInterruptLongPoll:       "InterruptLongPoll",
}

// Kinds lists every command kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindEmpty,
		KindCreatePresentationModel,
		KindDeletePresentationModel,
		KindValueChanged,
		KindQualifierChanged,
		KindStartLongPoll,
		KindInterruptLongPoll,
	}
}

// String returns the wire discriminator of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// ParseKind resolves a wire discriminator.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Command is one unit of the synchronization protocol. The set of
// implementations is closed to this package.
type Command interface {
	Kind() Kind
	command()
}

// AttributeData describes one attribute inside a CreatePresentationModel command.
type AttributeData struct {
	PropertyName string
	Value        any
	Qualifier    string
	ID           string
}

// CreatePresentationModel announces a new presentation model.
type CreatePresentationModel struct {
	PMID           string
	PMType         string
	ClientSideOnly bool
	Attributes     []AttributeData
}

// DeletePresentationModel removes a presentation model by id.
type DeletePresentationModel struct {
	PMID string
}

// ValueChanged reports a local value change of one attribute.
type ValueChanged struct {
	AttributeID string
	OldValue    any
	NewValue    any
}

// QualifierChanged reports a new qualifier for one attribute.
type QualifierChanged struct {
	AttributeID  string
	NewQualifier string
}

// Empty carries no payload. It is used to complete a sync round trip.
type Empty struct{}

// StartLongPoll asks the server to hold the request until it has something to push.
type StartLongPoll struct{}

// InterruptLongPoll releases an outstanding long poll.
type InterruptLongPoll struct{}

func (CreatePresentationModel) Kind() Kind { return KindCreatePresentationModel }
func (DeletePresentationModel) Kind() Kind { return KindDeletePresentationModel }
func (ValueChanged) Kind() Kind            { return KindValueChanged }
func (QualifierChanged) Kind() Kind        { return KindQualifierChanged }
func (Empty) Kind() Kind                   { return KindEmpty }
func (StartLongPoll) Kind() Kind           { return KindStartLongPoll }
func (InterruptLongPoll) Kind() Kind       { return KindInterruptLongPoll }

func (CreatePresentationModel) command() {}
func (DeletePresentationModel) command() {}
func (ValueChanged) command()            {}
func (QualifierChanged) command()        {}
func (Empty) command()                   {}
func (StartLongPoll) command()           {}
func (InterruptLongPoll) command()       {}

// CreateFromModel builds the creation command announcing pm and all of its
// attributes with their current values.
func CreateFromModel(pm *model.PresentationModel) CreatePresentationModel {
	attrs := pm.Attributes()
	cmd := CreatePresentationModel{
		PMID:           pm.ID(),
		PMType:         pm.Type(),
		ClientSideOnly: pm.ClientSideOnly(),
		Attributes:     make([]AttributeData, 0, len(attrs)),
	}
	for _, a := range attrs {
		cmd.Attributes = append(cmd.Attributes, AttributeData{
			PropertyName: a.PropertyName(),
			Value:        a.Value(),
			Qualifier:    a.Qualifier(),
			ID:           a.ID(),
		})
	}
	return cmd
}

// IsControl reports whether cmd is a long-poll control command. Control
// commands steer the transport and are never applied to a model store.
func IsControl(cmd Command) bool {
	switch Normalize(cmd).(type) {
	case StartLongPoll, InterruptLongPoll:
		return true
	default:
		return false
	}
}

// Normalize returns cmd in value form. Commands passed by pointer satisfy
// Command through their value methods; a nil pointer normalizes to nil.
func Normalize(cmd Command) Command {
	switch v := cmd.(type) {
	case *CreatePresentationModel:
		if v == nil {
			return nil
		}
		return *v
	case *DeletePresentationModel:
		if v == nil {
			return nil
		}
		return *v
	case *ValueChanged:
		if v == nil {
			return nil
		}
		return *v
	case *QualifierChanged:
		if v == nil {
			return nil
		}
		return *v
	case *Empty:
		if v == nil {
			return nil
		}
		return *v
	case *StartLongPoll:
		if v == nil {
			return nil
		}
		return *v
	case *InterruptLongPoll:
		if v == nil {
			return nil
		}
		return *v
	default:
		return cmd
	}
}

// Equal reports whether two commands have the same kind and content.
// Values compare with model.ValuesEqual.
func Equal(a, b Command) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}

	switch av := a.(type) {
	case CreatePresentationModel:
		bv, ok := b.(CreatePresentationModel)
		if !ok || av.PMID != bv.PMID || av.PMType != bv.PMType || av.ClientSideOnly != bv.ClientSideOnly {
			return false
		}
		if len(av.Attributes) != len(bv.Attributes) {
			return false
		}
		for i := range av.Attributes {
			x, y := av.Attributes[i], bv.Attributes[i]
			if x.PropertyName != y.PropertyName || x.Qualifier != y.Qualifier || x.ID != y.ID {
				return false
			}
			if !model.ValuesEqual(x.Value, y.Value) {
				return false
			}
		}
		return true
	case DeletePresentationModel:
		bv, ok := b.(DeletePresentationModel)
		return ok && av.PMID == bv.PMID
	case ValueChanged:
		bv, ok := b.(ValueChanged)
		return ok && av.AttributeID == bv.AttributeID &&
			model.ValuesEqual(av.OldValue, bv.OldValue) &&
			model.ValuesEqual(av.NewValue, bv.NewValue)
	case QualifierChanged:
		bv, ok := b.(QualifierChanged)
		return ok && av.AttributeID == bv.AttributeID && av.NewQualifier == bv.NewQualifier
	default:
		// Empty and the control commands carry no payload.
		return true
	}
}
