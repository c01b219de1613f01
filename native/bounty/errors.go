package bounty

import "errors"

// Failure taxonomy returned by the engine. Callers match with errors.Is.
var (
	ErrUnauthorized        = errors.New("bounty: unauthorized")
	ErrInvalidStatus       = errors.New("bounty: invalid status")
	ErrInsufficientFunds   = errors.New("bounty: insufficient funds")
	ErrDuplicateSubmission = errors.New("bounty: duplicate submission")
	ErrNotFound            = errors.New("bounty: not found")
	ErrInvalidArgument     = errors.New("bounty: invalid argument")
)

// Store contract errors. Engines translate them into the taxonomy above.
var (
	ErrRecordExists   = errors.New("bounty store: record exists")
	ErrStatusConflict = errors.New("bounty store: status conflict")
)

var errNilStore = errors.New("bounty engine: store not configured")
