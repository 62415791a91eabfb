package connector

import (
	"log/slog"
)

// ExceptionHandler receives failures of background connector work.
type ExceptionHandler interface {
	Handle(err error)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(err error)

// Handle calls f(err).
func (f ExceptionHandlerFunc) Handle(err error) {
	f(err)
}

// LoggingExceptionHandler logs the failure and re-raises it on the UI
// executor. With OnError set the error is passed to it. Otherwise, with
// Panic set, the executor goroutine panics with the error; by default the
// error is only logged and the connector keeps running.
type LoggingExceptionHandler struct {
	Logger   *slog.Logger
	Executor Executor
	OnError  func(err error)
	Panic    bool
}

// Handle logs err and re-raises it on the UI executor.
func (h *LoggingExceptionHandler) Handle(err error) {
	if err == nil {
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("remoting failure", "error", err)

	onError := h.OnError
	if onError == nil && !h.Panic {
		return
	}
	exec := h.Executor
	if exec == nil {
		exec = DirectExecutor{}
	}
	exec.Execute(func() {
		if onError != nil {
			onError(err)
			return
		}
		panic(err)
	})
}
