package wire

// Status represents an acknowledgment status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusUnknownEntity indicates the entity type doesn't exist.
	StatusUnknownEntity Status = 1

	// StatusInvalidFilter indicates the filter expression was rejected.
	StatusInvalidFilter Status = 2

	// StatusNotAuthorized indicates the session may not listen to this
	// entity type.
	StatusNotAuthorized Status = 3

	// StatusConflict indicates a mutation conflicts with newer server state.
	StatusConflict Status = 4

	// StatusBusy indicates the server is overloaded; try again later.
	StatusBusy Status = 5
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownEntity:
		return "UNKNOWN_ENTITY"
	case StatusInvalidFilter:
		return "INVALID_FILTER"
	case StatusNotAuthorized:
		return "NOT_AUTHORIZED"
	case StatusConflict:
		return "CONFLICT"
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true for a success status.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
