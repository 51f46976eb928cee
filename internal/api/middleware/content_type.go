package middleware

import (
	"mime"
	"net/http"

	"github.com/taxiride/tripsim/internal/api/models"
)

// RequireJSON rejects request bodies that are declared as something other
// than JSON. A missing Content-Type is accepted.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				problem := models.NewProblem(
					models.ProblemTypeValidation,
					"Unsupported media type",
					http.StatusUnsupportedMediaType,
					GetRequestID(r.Context()),
				).WithDetail("Content-Type must be application/json").WithInstance(r.URL.Path)
				problem.Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
