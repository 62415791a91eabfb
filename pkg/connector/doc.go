// Package connector moves commands between a client model store and a
// server model store.
//
// A ClientConnector owns a model store whose local mutations are turned into
// commands by a ModelSynchronizer, queued, and transmitted in batches by a
// background loop. Responses are applied to the store on the UI executor
// without producing new commands, so a peer's change is never echoed back.
//
// A ServerConnector is the per-session counterpart. It applies incoming
// batches in order, runs registered actions, and answers every batch with the
// commands the server produced in the meantime. When the client has nothing
// to send and push is enabled, it parks a StartLongPoll request on the server
// until the server has something to push; a later client send releases the
// poll out of band with an interrupt.
//
// # Wiring
//
//	sc := connector.NewServerConnector(connector.WithPollTimeout(30 * time.Second))
//	cc := connector.NewClientConnector(nil, connector.NewLocalTransport(sc, nil),
//	    connector.WithPushEnabled(true))
//	if err := cc.Connect(ctx); err != nil {
//	    return err
//	}
//	defer cc.Disconnect()
//
//	attr := model.NewAttribute(model.ClientSide, "name", "Ada")
//	cc.Store().Add(model.NewPresentationModel("", "Person", []*model.Attribute{attr}))
//	cc.Sync(func() { fmt.Println("server has seen the person") })
//
// # Failure handling
//
// A failed request/response cycle is reported to the ExceptionHandler and the
// loop continues with the next batch. The default handler logs the error and
// hands it to OnError on the UI executor when one is set.
package connector
