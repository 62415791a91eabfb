package connector

import (
	rerrors "github.com/vango-dev/remoting/internal/errors"
)

// Connector errors.
var (
	// ErrNoConnection is returned by a ModelSynchronizer that has no sender.
	ErrNoConnection = rerrors.New(rerrors.CodeNoConnection)

	// ErrAlreadyConnected is returned by Connect on a running connector.
	ErrAlreadyConnected = rerrors.New(rerrors.CodeAlreadyConnected)

	// ErrConnectorClosed is returned by a closed ServerConnector.
	ErrConnectorClosed = rerrors.New(rerrors.CodeConnectorClosed)

	// ErrCommandsLost is reported instead of running completion callbacks
	// after a batch with model commands failed.
	ErrCommandsLost = rerrors.New(rerrors.CodeCommandsLost)

	// ErrTransportFailed wraps a failed request/response cycle.
	ErrTransportFailed = rerrors.New(rerrors.CodeTransportFailed)

	// ErrUnexpectedReply is returned when a server answers with a non-success status.
	ErrUnexpectedReply = rerrors.New(rerrors.CodeUnexpectedReply)
)
