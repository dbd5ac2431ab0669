package handlers

import "net/http"

// NotFoundBody is returned for every unmatched route or method.
const NotFoundBody = "Sorry, that route doesn't exist."

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(NotFoundBody))
}
