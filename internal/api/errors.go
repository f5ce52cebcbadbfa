package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/and161185/shopfront/internal/errs"
)

// RequestError is a non-success HTTP response from the storefront API.
type RequestError struct {
	Method string
	Path   string
	Status int
	Detail string // server-supplied, human-readable
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
}

// Is maps the HTTP status onto the errs sentinels.
func (e *RequestError) Is(target error) bool {
	switch target {
	case errs.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case errs.ErrForbidden:
		return e.Status == http.StatusForbidden
	case errs.ErrNotFound:
		return e.Status == http.StatusNotFound
	case errs.ErrConflict:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusConflict
	case errs.ErrValidation:
		return e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// Message returns the text a view should show the user.
func (e *RequestError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return http.StatusText(e.Status)
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports errs.ErrTransport.
func (e *TransportError) Is(target error) bool { return target == errs.ErrTransport }

// parseDetail extracts {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if len(body) == 0 || json.Unmarshal(body, &env) != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(env.Detail, &s) == nil {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(env.Detail, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, it := range list {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
