package exception

import "errors"

var (
	ErrConnection          = errors.New("session: transport failed before ready")
	ErrTransportClosed     = errors.New("session: transport closed")
	ErrSessionNotIdle      = errors.New("session: connect while not disconnected")
	ErrSessionNotConnected = errors.New("session: not connected")
)
