// Package params exposes the parameter store over HTTP so operators without
// an MQTT broker can read and change settings.
package params

import (
	"encoding/json"
	"net/http"

	coreparams "github.com/kilianp07/marstek/core/params"
)

// NewHandler returns an HTTP handler for /api/params. GET returns every
// stored value. PUT or POST with a JSON object sets each key: numbers and
// booleans are stored as such, strings are parsed like MQTT payloads and null
// deletes the key. Requests must include an Authorization header with
// "Bearer <token>" when token is non-empty.
func NewHandler(store *coreparams.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		switch r.Method {
		case http.MethodGet:
		case http.MethodPut, http.MethodPost:
			var body map[string]any
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
				http.Error(w, "invalid JSON object: "+err.Error(), http.StatusBadRequest)
				return
			}
			for k, v := range body {
				switch v.(type) {
				case nil, string, float64, bool:
				default:
					http.Error(w, "unsupported value for "+k, http.StatusBadRequest)
					return
				}
			}
			for k, v := range body {
				switch t := v.(type) {
				case nil:
					store.Delete(k)
				case string:
					store.SetRaw(k, t)
				default:
					store.Set(k, t)
				}
			}
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(store.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
