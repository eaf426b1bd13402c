package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseError_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantStatus int
	}{
		{"data global message", 400, `{"data":{"globalMessage":"invalid mac"}}`, "invalid mac", 400},
		{"bare global message", 409, `{"globalMessage":"name taken"}`, "name taken", 409},
		{"nested errors", 400, `{"response":{"data":{"errors":[{"message":"a"},{"message":"b"}]}}}`, "a; b", 400},
		{"top-level errors", 422, `{"errors":[{"message":"bad adapter"}]}`, "bad adapter", 422},
		{"status only", 0, `{"status":503}`, "request failed with status 503", 503},
		{"response status", 0, `{"response":{"status":502}}`, "request failed with status 502", 502},
		{"plain message", 500, `{"message":"boom"}`, "boom", 500},
		{"not json", 500, `<html>oops</html>`, "request failed with status 500", 500},
		{"empty body", 404, ``, "request failed with status 404", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseError("op", tt.status, []byte(tt.body))
			assert.Equal(t, tt.wantMsg, err.Message())
			assert.Equal(t, tt.wantStatus, err.Status)
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "plain", Message(errors.New("plain")))

	wrapped := fmt.Errorf("register: %w", &Error{Status: 404, GlobalMessage: "device gone"})
	assert.Equal(t, "device gone", Message(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, 0, StatusCode(errors.New("x")))
	assert.Equal(t, "op: request failed", (&Error{Op: "op"}).Error())
}

func TestEntity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"id":1}`, "1"},
		{`{"id":"5f3c"}`, "5f3c"},
		{`{"id":null}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var e Entity
		assert.NoError(t, e.UnmarshalJSON([]byte(tt.body)), tt.body)
		assert.Equal(t, tt.want, e.ID, tt.body)
	}

	var e Entity
	assert.Error(t, e.UnmarshalJSON([]byte(`{"id":[1]}`)))
}
