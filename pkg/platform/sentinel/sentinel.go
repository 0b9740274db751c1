package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: no such record
//   - ErrConflict: a unique key (tx ref, ledger incident id, address) is taken
//   - ErrExpired: a nonce or token outlived its window
//   - ErrAlreadyUsed: a one-shot value was consumed or replaced
//   - ErrInvalidState: the record cannot make the requested transition
//   - ErrUnavailable: the backing service cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
