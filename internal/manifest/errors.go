package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrNotFound indicates a profile or composite does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCanceled indicates composition stopped because its context ended.
	ErrCanceled = errors.New("composition canceled")
)

// Message codes carried in composition results and API error bodies.
const (
	CodeValidation       = "validation_error"
	CodeMissingProfile   = "missing_profile"
	CodeMergeConflict    = "merge_conflict"
	CodeCyclicDependency = "cyclic_dependency"
	CodeDependentsExist  = "dependents_exist"
	CodeConflict         = "conflict"
	CodeNotFound         = "not_found"
	CodeCanceled         = "canceled"
	CodeInternal         = "internal_error"

	// Warning codes.
	CodeNotApplicable    = "category_not_applicable"
	CodeNoContainers     = "no_containers"
	CodeUnknownKey       = "unknown_key"
	CodeSelectorMismatch = "selector_mismatch"
)

// Message is the serialized form of an error or warning.
type Message struct {
	Code      string   `json:"code" yaml:"code"`
	Message   string   `json:"message" yaml:"message"`
	ProfileID string   `json:"profile_id,omitempty" yaml:"profile_id,omitempty"`
	Category  Category `json:"category,omitempty" yaml:"category,omitempty"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
}

// String renders the message for console output.
func (m Message) String() string {
	var ctx []string
	if m.Category != "" {
		ctx = append(ctx, string(m.Category))
	}
	if m.ProfileID != "" {
		ctx = append(ctx, m.ProfileID)
	}
	if m.Path != "" {
		ctx = append(ctx, m.Path)
	}
	if len(ctx) == 0 {
		return fmt.Sprintf("[%s] %s", m.Code, m.Message)
	}
	return fmt.Sprintf("[%s] %s (%s)", m.Code, m.Message, strings.Join(ctx, " "))
}

// Reporter is implemented by errors that convert to a Message.
type Reporter interface {
	Report() Message
}

// MessageFromError converts any error into a Message.
func MessageFromError(err error) Message {
	var r Reporter
	if errors.As(err, &r) {
		return r.Report()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return Message{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Message{Code: CodeCanceled, Message: err.Error()}
	}
	return Message{Code: CodeInternal, Message: err.Error()}
}

// ValidationError indicates a profile, composite, or composed document is invalid.
type ValidationError struct {
	Field     string
	Message   string
	Path      string
	ProfileID string
	Category  Category
	Allowed   []string
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string, allowed ...string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Allowed: allowed}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		fmt.Fprintf(&b, " for %s", e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return b.String()
}

// Report implements Reporter.
func (e *ValidationError) Report() Message {
	return Message{Code: CodeValidation, Message: e.Error(), ProfileID: e.ProfileID, Category: e.Category, Path: e.Path}
}

// MissingProfileError indicates a referenced profile does not exist.
type MissingProfileError struct {
	ProfileID string
	Category  Category
}

func (e *MissingProfileError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("profile %s not found", e.ProfileID)
	}
	return fmt.Sprintf("%s profile %s not found", e.Category, e.ProfileID)
}

// Report implements Reporter.
func (e *MissingProfileError) Report() Message {
	return Message{Code: CodeMissingProfile, Message: e.Error(), ProfileID: e.ProfileID, Category: e.Category}
}

// MergeConflictError indicates two fragments set incompatible shapes at the same path.
type MergeConflictError struct {
	Path              string
	ProfileID         string
	PreviousProfileID string
	Category          Category
	Existing          string
	Incoming          string
}

func (e *MergeConflictError) Error() string {
	msg := fmt.Sprintf("cannot merge %s into %s at %s", e.Incoming, e.Existing, displayPath(e.Path))
	if e.PreviousProfileID != "" {
		msg += fmt.Sprintf(" (previously set by %s)", e.PreviousProfileID)
	}
	return msg
}

// Report implements Reporter.
func (e *MergeConflictError) Report() Message {
	return Message{Code: CodeMergeConflict, Message: e.Error(), ProfileID: e.ProfileID, Category: e.Category, Path: displayPath(e.Path)}
}

// CyclicDependencyError indicates profile includes form a cycle.
type CyclicDependencyError struct {
	Cycle    []string
	Category Category
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("circular include detected: %s", strings.Join(e.Cycle, " -> "))
}

// Report implements Reporter.
func (e *CyclicDependencyError) Report() Message {
	m := Message{Code: CodeCyclicDependency, Message: e.Error(), Category: e.Category}
	if len(e.Cycle) > 0 {
		m.ProfileID = e.Cycle[0]
	}
	return m
}

// DependentsExistError indicates a profile cannot be deleted because other
// resources still reference it.
type DependentsExistError struct {
	ResourceID   string
	ResourceName string
	ResourceType Category
	Dependents   []ConsumerRef
}

func (e *DependentsExistError) Error() string {
	names := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		label := d.Name
		if label == "" {
			label = d.ID
		}
		names[i] = fmt.Sprintf("%s %s", d.Kind, label)
	}
	return fmt.Sprintf("%s profile %q is still referenced by %d resource(s): %s",
		e.ResourceType, e.ResourceName, len(e.Dependents), strings.Join(names, ", "))
}

// Report implements Reporter.
func (e *DependentsExistError) Report() Message {
	return Message{Code: CodeDependentsExist, Message: e.Error(), ProfileID: e.ResourceID, Category: e.ResourceType}
}

// ConflictError indicates a write lost a race or collided with an existing name.
type ConflictError struct {
	Resource string
	ID       string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
	}
	return fmt.Sprintf("%s %s conflict: %s", e.Resource, e.ID, e.Message)
}

// Report implements Reporter.
func (e *ConflictError) Report() Message {
	return Message{Code: CodeConflict, Message: e.Error(), ProfileID: e.ID}
}

// Warning builds a non-fatal message.
func Warning(code, message string, category Category, profileID, path string) Message {
	return Message{Code: code, Message: message, Category: category, ProfileID: profileID, Path: path}
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
