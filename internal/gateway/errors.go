package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a failed backend request.
type Error struct {
	Op            string
	Status        int
	GlobalMessage string
	Messages      []string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message())
}

// Message is the text shown to the user: the server message if there is
// one, else a generic status line.
func (e *Error) Message() string {
	if e.GlobalMessage != "" {
		return e.GlobalMessage
	}
	if len(e.Messages) > 0 {
		return strings.Join(e.Messages, "; ")
	}
	if e.Status > 0 {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return "request failed"
}

// errorBody covers every error shape the backend is known to send.
type errorBody struct {
	GlobalMessage string          `json:"globalMessage"`
	Message       string          `json:"message"`
	Status        json.RawMessage `json:"status"`
	Errors        []errorItem     `json:"errors"`
	Data          *struct {
		GlobalMessage string      `json:"globalMessage"`
		Errors        []errorItem `json:"errors"`
	} `json:"data"`
	Response *struct {
		Status int `json:"status"`
		Data   *struct {
			GlobalMessage string      `json:"globalMessage"`
			Errors        []errorItem `json:"errors"`
		} `json:"data"`
	} `json:"response"`
}

type errorItem struct {
	Message string `json:"message"`
}

// ParseError builds an Error from an HTTP status and response body.
func ParseError(op string, status int, body []byte) *Error {
	e := &Error{Op: op, Status: status}

	var b errorBody
	if len(body) == 0 || json.Unmarshal(body, &b) != nil {
		return e
	}

	switch {
	case b.Data != nil && b.Data.GlobalMessage != "":
		e.GlobalMessage = b.Data.GlobalMessage
	case b.GlobalMessage != "":
		e.GlobalMessage = b.GlobalMessage
	case b.Response != nil && b.Response.Data != nil && b.Response.Data.GlobalMessage != "":
		e.GlobalMessage = b.Response.Data.GlobalMessage
	}

	switch {
	case b.Response != nil && b.Response.Data != nil && len(b.Response.Data.Errors) > 0:
		e.Messages = collect(b.Response.Data.Errors)
	case b.Data != nil && len(b.Data.Errors) > 0:
		e.Messages = collect(b.Data.Errors)
	case len(b.Errors) > 0:
		e.Messages = collect(b.Errors)
	case b.Message != "":
		e.Messages = []string{b.Message}
	}

	if e.Status == 0 {
		if b.Response != nil && b.Response.Status > 0 {
			e.Status = b.Response.Status
		} else if len(b.Status) > 0 {
			var n int
			if json.Unmarshal(b.Status, &n) == nil {
				e.Status = n
			}
		}
	}
	return e
}

func collect(items []errorItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Message != "" {
			out = append(out, it.Message)
		}
	}
	return out
}

// Message extracts the user-facing text of any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message()
	}
	return err.Error()
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Status
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
