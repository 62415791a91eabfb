// Package errors provides coded, structured errors for the remoting runtime.
//
// Every fatal condition the synchronization core can raise has a registered
// code (e.g. "R001") that maps to:
//   - A category (model, protocol, connector, transport, config, cli)
//   - A short message
//   - A longer explanation
//
// # Usage
//
//	err := errors.New(errors.CodeModelExists).
//	    WithSubject("p1").
//	    WithDetail("the peer already announced this presentation model")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR R001: Presentation model already known to the peer
//	//
//	//   subject: p1
//	//
//	//   the peer already announced this presentation model
//
// Errors created from the same code match each other with errors.Is, so the
// exported sentinels in pkg/model, pkg/protocol and pkg/connector can be
// compared against errors produced deep inside a dispatch loop.
package errors
