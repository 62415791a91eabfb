package model

import (
	"strconv"
	"sync/atomic"
)

// Side tags generated ids with the process that created them, so client and
// server ids never collide.
type Side string

const (
	// ClientSide marks ids created by the client ("C").
	ClientSide Side = "C"

	// ServerSide marks ids created by the server ("S").
	ServerSide Side = "S"
)

const (
	clientAutoIDSuffix = "-AUTO-CLT"
	serverAutoIDSuffix = "-AUTO-SRV"
)

// String returns the side suffix.
func (s Side) String() string {
	return string(s)
}

func (s Side) autoIDSuffix() string {
	if s == ServerSide {
		return serverAutoIDSuffix
	}
	return clientAutoIDSuffix
}

// idCounter is the source of unique ids for attributes and auto-named models.
var idCounter atomic.Uint64

func nextID() uint64 {
	return idCounter.Add(1)
}

// newAttributeID returns an id such as "42C".
func newAttributeID(side Side) string {
	return strconv.FormatUint(nextID(), 10) + string(side)
}

// newModelID returns an id such as "43-AUTO-CLT".
func newModelID(side Side) string {
	return strconv.FormatUint(nextID(), 10) + side.autoIDSuffix()
}

// Origin is the mutation mode passed to every store mutation.
type Origin int

const (
	// Local mutations come from application or UI code and are synchronized.
	Local Origin = iota

	// Remote mutations replay a peer's command and are applied silently.
	Remote
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}
