// Package server exposes server connectors over HTTP and WebSocket.
//
// Every client gets a session. A session owns one connector.ServerConnector
// and therefore one server-side model store; closing the session releases any
// parked long poll and drops the store.
//
// # Endpoints
//
//	POST {path}        one command batch per request; response is the reply batch
//	GET  {path}/ws     WebSocket; one text frame per batch, one reply frame per batch
//	GET  /metrics      Prometheus metrics
//	GET  /healthz      liveness and session statistics as JSON
//
// Clients identify their session with the X-Remoting-Session header or the
// session cookie. A request without a known session starts a new one and the
// response carries its id.
//
// # Controllers
//
// Application code attaches behavior to new sessions with OnSessionCreate:
//
//	srv := server.New(server.DefaultServerConfig())
//	srv.OnSessionCreate(func(sess *server.Session) {
//	    sess.Connector().Register(protocol.KindValueChanged, onValueChanged)
//	})
//	err := srv.ListenAndServe(ctx)
package server
