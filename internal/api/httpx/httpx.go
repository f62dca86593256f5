package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/payflow/internal/apperror"
)

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteData(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, envelope{Success: true, Data: data})
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, envelope{Error: &APIError{Code: code, Message: msg, Details: details}})
}

// WriteAppError maps err onto a status and error body. Internal errors are
// logged and never shown to the client.
func WriteAppError(w http.ResponseWriter, err error) {
	e := apperror.As(err)
	if e.Kind == apperror.Internal {
		slog.Error("internal error", "err", err)
		WriteError(w, http.StatusInternalServerError, string(apperror.Internal), "internal error", nil)
		return
	}
	var details interface{}
	if e.Details != nil {
		details = e.Details
	}
	if e.ProviderCode != "" {
		details = map[string]interface{}{"providerCode": e.ProviderCode, "info": e.Details}
	}
	WriteError(w, e.HTTPStatus(), string(e.Kind), e.Message, details)
}
