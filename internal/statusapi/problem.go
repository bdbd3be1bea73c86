package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

const problemBase = "urn:diarysync:problem:"

var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest:          {problemBase + "bad-request", "Bad Request"},
	http.StatusConflict:            {problemBase + "sync-in-progress", "Conflict"},
	http.StatusTooManyRequests:     {problemBase + "rate-limit", "Too Many Requests"},
	http.StatusInternalServerError: {problemBase + "internal-error", "Internal Server Error"},
	http.StatusBadGateway:          {problemBase + "sync-failed", "Bad Gateway"},
	http.StatusServiceUnavailable:  {problemBase + "not-connected", "Service Unavailable"},
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt.typeURI = problemBase + "unknown"
		pt.title = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
	if err != nil {
		slog.Error("encoding problem response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
