package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSellLocked     = errors.New("sell already in flight for asset")
	ErrExitFailed     = errors.New("asset quarantined after failed exits")
	ErrBudgetExceeded = errors.New("auto-capital budget exceeded")
	ErrNotReady       = errors.New("risk machine not ready")
	ErrEmergencyMode  = errors.New("emergency mode active")
	ErrBackoffActive  = errors.New("submission backoff active")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrIntentResolved = errors.New("intent already resolved")
)
