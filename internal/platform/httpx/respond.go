// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
)

// problemTypeBase prefixes the stable problem-type URIs clients key on.
const problemTypeBase = "https://apotek-pos.dev/problems/"

// maxBodyBytes caps decoded request bodies; bulk approvals stay far below it.
const maxBodyBytes = 1 << 20

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response. The type URI is
// derived from the title so clients can switch on it without parsing text.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Type:   problemTypeBase + typeSlug(title),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func typeSlug(title string) string {
	return strings.ToLower(strings.ReplaceAll(title, " ", "-"))
}

// DecodeJSON decodes a JSON request body into the target struct, refusing
// oversized payloads.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(target)
}
