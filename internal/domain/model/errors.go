package model

import "errors"

// Sentinel errors for model parsing.
var (
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownKind     = errors.New("unknown entity kind")
	ErrUnknownPeriod   = errors.New("unknown period key")
)
