package serviceerr

import (
	"encoding/json"
	"net/http"
)

// ErrorModel is the JSON body of every error response. Message carries the
// internal error text and is only filled in development.
type ErrorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Message          string `json:"message,omitempty"`
}

// WriteJSON renders err as an ErrorModel with the status of its service
// error. Errors without one become 500.
func WriteJSON(w http.ResponseWriter, err error, withDetails bool) {
	svcErr := As(err)

	model := ErrorModel{
		Error:            string(svcErr.Err),
		ErrorDescription: svcErr.Description,
	}
	if withDetails {
		model.Message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(model)
}
