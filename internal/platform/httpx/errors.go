package httpx

import (
	"errors"
	"net/http"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

// ErrBodyTooLarge indicates the request body exceeded its limit.
var ErrBodyTooLarge = errors.New("request body too large")

// RespondError maps domain errors to RFC7807 responses. Validation failures
// carry per-field details.
func RespondError(w http.ResponseWriter, err error) {
	var (
		fields     shared.FieldErrorer
		extraction *shared.ExtractionError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrBodyTooLarge), errors.As(err, &tooLarge):
		Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
	case errors.As(err, &fields):
		ValidationProblem(w, err.Error(), fields.FieldErrors())
	case errors.Is(err, money.ErrCurrencyMismatch):
		ValidationProblem(w, err.Error(), []shared.FieldError{{Field: "currency", Message: err.Error()}})
	case errors.Is(err, shared.ErrValidation):
		ValidationProblem(w, err.Error(), nil)
	case errors.Is(err, shared.ErrUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	case errors.As(err, &extraction):
		Problem(w, http.StatusBadGateway, "Extraction Failed", "the receipt could not be read")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
