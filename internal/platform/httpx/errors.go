package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapping binds a sentinel error to an HTTP status and problem title.
type ErrorMapping struct {
	Err    error
	Status int
	Title  string
	// Expose puts err.Error() into the problem detail.
	Expose bool
}

// RespondError maps err onto the first matching mapping using errors.Is and
// writes an RFC7807 problem. Unmapped errors become a bare 500.
func RespondError(w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			detail := ""
			if m.Expose {
				detail = err.Error()
			}
			Problem(w, m.Status, m.Title, detail)
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
