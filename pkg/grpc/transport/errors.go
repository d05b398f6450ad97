package transport

import "errors"

var (
	// ErrNotConnected is returned when the client is used before Connect or after Close
	ErrNotConnected = errors.New("not connected to server")
	// ErrServerStarted is returned when Start or Serve is called twice
	ErrServerStarted = errors.New("server already started")
)
