package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

// ErrorBody is the JSON body of every error response. Delete conflicts add
// the resource and its dependents.
type ErrorBody struct {
	manifest.Message
	ResourceName string                 `json:"resource_name,omitempty"`
	ResourceType manifest.Category      `json:"resource_type,omitempty"`
	Dependents   []manifest.ConsumerRef `json:"dependents,omitempty"`
	Cycle        []string               `json:"cycle,omitempty"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		validation *manifest.ValidationError
		cyclic     *manifest.CyclicDependencyError
		missing    *manifest.MissingProfileError
		conflict   *manifest.ConflictError
		dependents *manifest.DependentsExistError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &cyclic):
		return http.StatusBadRequest
	case errors.Is(err, manifest.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &dependents):
		return http.StatusConflict
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, manifest.ErrCanceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Message: manifest.MessageFromError(err)}
	var dependents *manifest.DependentsExistError
	if errors.As(err, &dependents) {
		body.ResourceName = dependents.ResourceName
		body.ResourceType = dependents.ResourceType
		body.Dependents = dependents.Dependents
	}
	var cyclic *manifest.CyclicDependencyError
	if errors.As(err, &cyclic) {
		body.Cycle = cyclic.Cycle
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		ui.Error("Request failed: %v", err)
	}
	writeJSON(w, status, errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Err converts a decoded error body back into the typed error the server
// started from, so callers can use errors.Is and errors.As on either side of
// the wire.
func (b ErrorBody) Err() error {
	switch b.Code {
	case manifest.CodeNotFound:
		return fmt.Errorf("%s: %w", b.Message.Message, manifest.ErrNotFound)
	case manifest.CodeCanceled:
		return fmt.Errorf("%s: %w", b.Message.Message, manifest.ErrCanceled)
	case manifest.CodeValidation:
		return &remoteValidationError{body: b}
	case manifest.CodeMissingProfile:
		return &manifest.MissingProfileError{ProfileID: b.ProfileID, Category: b.Category}
	case manifest.CodeCyclicDependency:
		return &manifest.CyclicDependencyError{Cycle: b.Cycle, Category: b.Category}
	case manifest.CodeDependentsExist:
		return &manifest.DependentsExistError{
			ResourceID:   b.ProfileID,
			ResourceName: b.ResourceName,
			ResourceType: b.ResourceType,
			Dependents:   b.Dependents,
		}
	case manifest.CodeConflict:
		return &remoteConflictError{body: b}
	}
	return errors.New(b.Message.Message)
}

// remoteValidationError keeps the server's message verbatim while still
// matching *manifest.ValidationError with errors.As.
type remoteValidationError struct {
	body ErrorBody
}

func (e *remoteValidationError) Error() string { return e.body.Message.Message }

// Report implements manifest.Reporter.
func (e *remoteValidationError) Report() manifest.Message { return e.body.Message }

func (e *remoteValidationError) As(target any) bool {
	t, ok := target.(**manifest.ValidationError)
	if !ok {
		return false
	}
	*t = &manifest.ValidationError{
		Message:   e.body.Message.Message,
		Path:      e.body.Path,
		ProfileID: e.body.ProfileID,
		Category:  e.body.Category,
	}
	return true
}

type remoteConflictError struct {
	body ErrorBody
}

func (e *remoteConflictError) Error() string { return e.body.Message.Message }

// Report implements manifest.Reporter.
func (e *remoteConflictError) Report() manifest.Message { return e.body.Message }

func (e *remoteConflictError) As(target any) bool {
	t, ok := target.(**manifest.ConflictError)
	if !ok {
		return false
	}
	*t = &manifest.ConflictError{ID: e.body.ProfileID, Message: e.body.Message.Message}
	return true
}
