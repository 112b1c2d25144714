package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores and transports.
// Callers translate them into domain errors at the HTTP boundary.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
)
