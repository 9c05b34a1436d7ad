package ports

import "pairlink/internal/core/domain"

// PeerTransport is a live duplex connection to one participant. Writes must
// be safe for concurrent use.
type PeerTransport interface {
	SendJSON(v interface{}) error
	Close() error
}

// ConnectionRegistry maps participant identity to its live transport. It is
// the only place transports are looked up by identity. A failed Get is not an
// error: it signals "unreachable" and callers treat it as a disconnection.
type ConnectionRegistry interface {
	Register(id domain.UserID, transport PeerTransport)
	Get(id domain.UserID) (PeerTransport, bool)
	Unregister(id domain.UserID)
}
