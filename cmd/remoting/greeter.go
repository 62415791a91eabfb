package main

import (
	"context"
	"fmt"

	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/model"
	"github.com/vango-dev/remoting/pkg/protocol"
	"github.com/vango-dev/remoting/pkg/server"
)

// The greeter is the demo controller served by "remoting serve": every
// session gets one Greeter model, and writing its name attribute makes the
// server push a new greeting.
const (
	greeterID       = "greeter"
	greeterType     = "Greeter"
	greeterName     = "name"
	greeterGreeting = "greeting"
)

func greeting(name any) string {
	if s, ok := name.(string); ok && s != "" {
		return fmt.Sprintf("Hello, %s!", s)
	}
	return "Hello!"
}

// installGreeter seeds a new session and registers its actions.
func installGreeter(session *server.Session) error {
	pm := model.NewPresentationModel(greeterID, greeterType, []*model.Attribute{
		model.NewAttribute(model.ServerSide, greeterName, ""),
		model.NewAttribute(model.ServerSide, greeterGreeting, greeting("")),
	})
	if err := session.Store().Add(pm); err != nil {
		return err
	}
	session.Connector().Register(protocol.KindValueChanged, onGreeterNameChanged)
	return nil
}

func onGreeterNameChanged(_ context.Context, sc *connector.ServerConnector, cmd protocol.Command) error {
	vc, ok := protocol.Normalize(cmd).(protocol.ValueChanged)
	if !ok {
		return nil
	}
	attr, ok := sc.Store().FindAttributeByID(vc.AttributeID)
	if !ok || attr.PropertyName() != greeterName {
		return nil
	}
	pm := attr.PresentationModel()
	if pm == nil || pm.Type() != greeterType {
		return nil
	}
	target, ok := pm.Attribute(greeterGreeting)
	if !ok {
		return nil
	}
	return target.SetValue(greeting(vc.NewValue))
}
