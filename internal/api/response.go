package api

import (
	"encoding/json"
	"net/http"

	xerrors "MotoMind-Vision/internal/errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}

// writeCodedError maps a coded error to its HTTP status and body.
func writeCodedError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]any{"error": bodyOf(err)})
}

func bodyOf(err error) *errorBody {
	if err == nil {
		return nil
	}
	body := &errorBody{Code: string(xerrors.CodeOf(err)), Message: xerrors.UserMessage(err)}
	if e, ok := xerrors.From(err); ok {
		body.Metadata = e.Metadata()
	}
	return body
}

func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeCaptureBlocked:
		return http.StatusConflict
	case xerrors.CodeValidationFailed, xerrors.CodeCheckDigitMismatch,
		xerrors.CodeLowConfidence, xerrors.CodeRetriesExhausted:
		return http.StatusUnprocessableEntity
	case xerrors.CodeCaptureCancelled:
		return http.StatusRequestTimeout
	case xerrors.CodeDecodeTimeout, xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeDecodeFailure, xerrors.CodeAcquisitionFailure:
		return http.StatusBadGateway
	case xerrors.CodePluginInit, xerrors.CodeStorageFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "request body is not valid JSON")
		return false
	}
	return true
}
