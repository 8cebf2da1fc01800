package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/observability"
)

// ValidationError collects every offending field of a request in one
// response. The wire shape is a flat field-name to message map.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = message
}

func (e *ValidationError) Addf(field, format string, args ...interface{}) {
	e.Fields[field] = fmt.Sprintf(format, args...)
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PermissionDenied is returned only when the caller already knows the
// target exists, per the reveal rule.
type PermissionDenied struct {
	Model  string
	Action string
	Field  string
}

func (e *PermissionDenied) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("you have no %s permission on field %s of this %s object", actionWord(e.Action), e.Field, e.Model)
	}
	return fmt.Sprintf("you have no %s permission on this %s object", actionWord(e.Action), e.Model)
}

func actionWord(action string) string {
	switch action {
	case "r":
		return "read"
	case "w":
		return "write"
	case "c":
		return "create"
	case "d":
		return "delete"
	}
	return action
}

// NotFound hides an object's existence or reports a genuinely absent
// one; the two cases are indistinguishable on the wire.
type NotFound struct {
	Message string
}

func (e *NotFound) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Not found."
}

func errNotFound() *NotFound {
	return &NotFound{}
}

func errInvalidPage() *NotFound {
	return &NotFound{Message: "Invalid page."}
}

// writeError is the single boundary translator from typed errors to
// HTTP responses. Anything unrecognized is a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, modelName string, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		httputil.WriteFieldErrors(w, validation.Fields)
		return
	}

	var denied *PermissionDenied
	if errors.As(err, &denied) {
		if s.metrics != nil {
			s.metrics.PermissionDenialsTotal.WithLabelValues(denied.Model, denied.Action).Inc()
		}
		httputil.WriteForbidden(w, denied.Error()+".")
		return
	}

	var notFound *NotFound
	if errors.As(err, &notFound) {
		httputil.WriteNotFound(w, notFound.Error())
		return
	}

	observability.FromContext(r.Context()).WithError(err).
		WithField("model", modelName).Error("request failed")
	httputil.WriteInternalError(w, err)
}
