package handler

const (
	errInternalServer   = "Internal server error"
	errSourceIDNotFound = "No repositories found for the given identifier"
	errInvalidInput     = "One or more inputs failed validation"
	errMismatchedLists  = "source_id_type and source_id must be equal-length comma lists"
)
