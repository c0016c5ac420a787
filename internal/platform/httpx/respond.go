package httpx

import (
	"encoding/json"
	"net/http"
)

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

// Problem sends an RFC7807 problem details response. kind becomes the type URI fragment.
func Problem(w http.ResponseWriter, status int, title, detail, kind string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	p := ProblemDetail{Title: title, Status: status, Detail: detail}
	if kind != "" {
		p.Type = "urn:ledger:error:" + kind
	}
	_ = json.NewEncoder(w).Encode(p)
}
