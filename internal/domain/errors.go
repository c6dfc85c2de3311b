package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotClaimable   = errors.New("job is not claimable")
	ErrClaimLost         = errors.New("job claim lost")
	ErrInvalidTransition = errors.New("invalid job status transition")

	ErrVisitNotFound     = errors.New("visit not found")
	ErrVisitIDRequired   = errors.New("visit id is required")
	ErrInvalidQuery      = errors.New("either visit_id or patient_id is required")
	ErrNoteSigned        = errors.New("visit note is signed")
	ErrNoteAlreadySigned = errors.New("visit note is already signed")
	ErrInvalidSection    = errors.New("invalid note section")
	ErrInvalidSource     = errors.New("invalid note entry source")
	ErrEmptyContent      = errors.New("note entry content is empty")
)
