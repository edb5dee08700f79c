package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapping binds a sentinel error to a problem status and title.
type ErrorMapping struct {
	Err    error
	Status int
	Title  string
	// Hide suppresses the error text in the problem detail.
	Hide bool
}

// ErrorMapper translates domain errors into RFC7807 responses.
type ErrorMapper []ErrorMapping

// Respond writes the problem for the first mapping err matches. Unmapped errors
// become a 500 with no detail.
func (m ErrorMapper) Respond(w http.ResponseWriter, err error) int {
	for _, mapping := range m {
		if errors.Is(err, mapping.Err) {
			detail := err.Error()
			if mapping.Hide {
				detail = ""
			}
			Problem(w, mapping.Status, mapping.Title, detail)
			return mapping.Status
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
	return http.StatusInternalServerError
}
