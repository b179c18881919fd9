package shared

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrorer is implemented by errors that can be reported per field.
type FieldErrorer interface {
	FieldErrors() []FieldError
}
