package game

import (
	"errors"
	"fmt"
)

// Error kinds callers branch on. Specific errors wrap one of these, so
// errors.Is(err, ErrNotFound) holds for every not-found case.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("session was modified concurrently")
)

var (
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrCampaignNotFound  = fmt.Errorf("campaign %w", ErrNotFound)
	ErrCharacterNotFound = fmt.Errorf("character %w", ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("item %w in inventory", ErrNotFound)
	ErrSlotEmpty         = fmt.Errorf("equipped item %w: slot is empty", ErrNotFound)

	ErrInvalidSlot  = fmt.Errorf("%w: unknown equipment slot", ErrValidation)
	ErrEmptyAction  = fmt.Errorf("%w: action text is empty", ErrValidation)
	ErrActionTooBig = fmt.Errorf("%w: action text is too long", ErrValidation)

	// ErrMalformedSession is returned by stores for documents that fail Validate.
	ErrMalformedSession = errors.New("malformed session document")
)
