package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxJSONBody = 1 << 20

// fieldErrors is the validation error body: field name to messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeFieldErrors(w http.ResponseWriter, errs fieldErrors) {
	writeJSON(w, http.StatusBadRequest, errs)
}

// WriteDetail is an exported helper for middleware that answers with the
// API's {"detail": ...} error shape.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	writeDetail(w, status, detail)
}

// decodeJSON reads a single JSON object. Unknown fields are ignored because
// the frontend sends extra form state.
func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("JSON parse error - %v", err)
	}
	if decoder.More() {
		return errors.New("JSON parse error - unexpected data after object")
	}
	return nil
}
