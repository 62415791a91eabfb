package connector

import (
	"errors"
	"testing"

	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
)

func newApplierStore(t *testing.T, strict bool) (*Applier, *model.Store, *model.Attribute) {
	t.Helper()
	store := model.NewStore(model.ClientSide, NewModelSynchronizer(nil))
	attr := model.NewAttribute(model.ClientSide, "a", "current", model.WithID("1C"), model.WithQualifier("q"))
	if err := store.AddFrom(model.Remote, model.NewPresentationModel("p1", "T", []*model.Attribute{attr})); err != nil {
		t.Fatalf("AddFrom() error: %v", err)
	}
	return NewApplier(store, strict, nil), store, attr
}

func TestApplier_ValueChanged(t *testing.T) {
	a, _, attr := newApplierStore(t, false)

	// A nil provider fails every local mutation, so success proves the change was silent.
	if err := a.Apply(protocol.ValueChanged{AttributeID: "1C", OldValue: "stale", NewValue: "next"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if attr.Value() != "next" {
		t.Fatalf("value = %v, want next", attr.Value())
	}
}

func TestApplier_StrictModeIgnoresStaleChange(t *testing.T) {
	a, _, attr := newApplierStore(t, true)

	if err := a.Apply(protocol.ValueChanged{AttributeID: "1C", OldValue: "stale", NewValue: "next"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if attr.Value() != "current" {
		t.Fatalf("value = %v, want current", attr.Value())
	}

	if err := a.Apply(protocol.ValueChanged{AttributeID: "1C", OldValue: "current", NewValue: "next"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if attr.Value() != "next" {
		t.Fatalf("value = %v, want next", attr.Value())
	}
}

func TestApplier_EqualValueIsNoop(t *testing.T) {
	a, store, _ := newApplierStore(t, true)
	var events int
	store.OnAttributeChange(func(model.ChangeEvent) { events++ })

	if err := a.Apply(protocol.ValueChanged{AttributeID: "1C", OldValue: "whatever", NewValue: "current"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if events != 0 {
		t.Fatalf("events = %d, want 0", events)
	}
}

func TestApplier_UnknownIDs(t *testing.T) {
	a, _, _ := newApplierStore(t, false)

	tests := []struct {
		name string
		cmd  protocol.Command
		want error
	}{
		{"value of unknown attribute", protocol.ValueChanged{AttributeID: "404", NewValue: 1}, model.ErrAttributeNotFound},
		{"qualifier of unknown attribute", protocol.QualifierChanged{AttributeID: "404", NewQualifier: "q"}, model.ErrAttributeNotFound},
		{"delete unknown model", protocol.DeletePresentationModel{PMID: "404"}, model.ErrModelNotFound},
		{"create known model", protocol.CreatePresentationModel{PMID: "p1"}, model.ErrModelExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.Apply(tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplier_CreateKeepsPeerIDsAndAlignsQualifiers(t *testing.T) {
	a, store, attr := newApplierStore(t, false)

	err := a.Apply(protocol.CreatePresentationModel{
		PMID:           "p2",
		PMType:         "Other",
		ClientSideOnly: true,
		Attributes: []protocol.AttributeData{
			{PropertyName: "b", Value: "server", Qualifier: "q", ID: "7S"},
		},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	created, ok := store.FindAttributeByID("7S")
	if !ok {
		t.Fatal("peer attribute id not kept")
	}
	if pm := created.PresentationModel(); pm.Type() != "Other" || !pm.ClientSideOnly() {
		t.Fatalf("created model = %s/%v", pm.Type(), pm.ClientSideOnly())
	}
	if attr.Value() != "server" {
		t.Fatalf("co-qualified value = %v, want server", attr.Value())
	}
}

func TestApplier_QualifierAndDelete(t *testing.T) {
	a, store, attr := newApplierStore(t, false)

	if err := a.Apply(protocol.QualifierChanged{AttributeID: "1C", NewQualifier: "r"}); err != nil {
		t.Fatalf("Apply(qualifier) error: %v", err)
	}
	if attr.Qualifier() != "r" || len(store.FindAllAttributesByQualifier("r")) != 1 {
		t.Fatalf("qualifier = %q", attr.Qualifier())
	}

	if err := a.Apply(protocol.DeletePresentationModel{PMID: "p1"}); err != nil {
		t.Fatalf("Apply(delete) error: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}

	for _, cmd := range []protocol.Command{protocol.Empty{}, protocol.StartLongPoll{}, protocol.InterruptLongPoll{}} {
		if err := a.Apply(cmd); err != nil {
			t.Fatalf("Apply(%v) error: %v", cmd.Kind(), err)
		}
	}
}
