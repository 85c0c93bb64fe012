package telehealth

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrNoQueueRequest    = errors.New("client has no queue request")
	ErrSettingsRequired  = errors.New("staff telehealth settings are required")
	ErrOverlap           = errors.New("overlapping booking")
	ErrSlotUnavailable   = errors.New("no staff available for the requested time")
	ErrNoStatusChange    = errors.New("booking already has that status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrProvider          = errors.New("telehealth provider error")
)
