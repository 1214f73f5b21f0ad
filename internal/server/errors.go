package server

import "errors"

// Terminal results of a single connection. None of them affect other
// connections.
var (
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrCapacityExceeded     = errors.New("server at capacity")
	ErrPolicyRejected       = errors.New("rejected by ban list")
	ErrConsistencyViolation = errors.New("player state inconsistent")
	ErrIO                   = errors.New("connection i/o failure")
)
