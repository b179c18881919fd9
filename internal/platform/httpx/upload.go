package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/groupspend/groupspend/internal/shared"
)

// ReadImage reads a single image from the multipart field. The content type
// is sniffed from the bytes and must be image/*.
func ReadImage(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(64<<10))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", ErrBodyTooLarge
		}
		return nil, "", fmt.Errorf("multipart form: %v: %w", err, shared.ErrValidation)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", &RequestError{Fields: []shared.FieldError{{Field: field, Message: "is required"}}}
	}
	defer file.Close()
	if header.Size > maxBytes {
		return nil, "", ErrBodyTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", ErrBodyTooLarge
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", &RequestError{Fields: []shared.FieldError{{Field: field, Message: "must be an image"}}}
	}
	return data, mime, nil
}
