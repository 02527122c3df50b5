package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/whisper/arena/internal/logging"
	"github.com/whisper/arena/internal/matching"
	"github.com/whisper/arena/internal/validation"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeConflict    = "STATE_CONFLICT"
	CodeNotFound    = "NOT_FOUND"
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string                  `json:"error"`
	Code   string                  `json:"code"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("write response")
	}
}

// respondError maps a service error to its status and code. Internal errors
// are logged and their text is never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch matching.Kind(err) {
	case matching.KindValidation:
		status, code = http.StatusBadRequest, CodeValidation
	case matching.KindConflict:
		status, code = http.StatusConflict, CodeConflict
	case matching.KindNotFound:
		status, code = http.StatusNotFound, CodeNotFound
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: CodeInternal})
		return
	}
	respondJSON(w, status, errorResponse{Error: publicMessage(err), Code: code})
}

// publicMessage strips the package prefix from sentinel errors:
// "matching: no match" becomes "no match".
func publicMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "matching: "); i >= 0 {
		msg = msg[i+len("matching: "):]
	}
	return msg
}

func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	respondJSON(w, http.StatusBadRequest, errorResponse{
		Error:  verr.Error(),
		Code:   CodeValidation,
		Fields: verr.Fields,
	})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: CodeValidation})
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			respondBadRequest(w, "request body is required")
		} else {
			respondBadRequest(w, "request body must be valid JSON")
		}
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		respondValidation(w, verr)
		return false
	}
	return true
}

// pathID parses a positive integer path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondBadRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
