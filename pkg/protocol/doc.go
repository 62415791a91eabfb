// Package protocol defines the command set exchanged between a client and a
// server connector and the JSON codec that carries it.
//
// Commands are immutable values. A batch is a JSON array of command objects,
// each carrying an "id" discriminator naming its kind:
//
//	[
//	  {"id":"CreatePresentationModel","pmId":"p1","pmType":"Person","clientSideOnly":false,
//	   "attributes":[{"propertyName":"name","value":"Ada","qualifier":"person.name","id":"12C"}]},
//	  {"id":"ValueChanged","attributeId":"12C","oldValue":"Ada","newValue":"Grace"},
//	  {"id":"Empty"}
//	]
//
// # Kinds
//
//   - CreatePresentationModel: announces a model with all attributes
//   - DeletePresentationModel: removes a model by id
//   - ValueChanged: carries the old and the new value of one attribute
//   - QualifierChanged: moves an attribute into another qualifier group
//   - Empty: does nothing; completes a sync round trip
//   - StartLongPoll, InterruptLongPoll: push control, never applied to a store
//
// Decoding is strict: a missing or unknown discriminator fails the whole
// payload. Numbers decode to int64 when integral and float64 otherwise, so a
// round trip preserves content equality as reported by Equal.
package protocol
