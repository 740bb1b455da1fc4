// Package domain holds the verification session state and the notification frames exchanged with
// the backend socket.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type values on the notification socket.
const (
	TypeVerificationNeeded  = "verification_needed"
	TypeVerificationSuccess = "verification_success"
	TypeSubscribe           = "subscribe"
)

// ErrMalformedFrame is returned by ParseFrame for payloads that are not JSON objects with a type.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is an inbound notification. The set of implementations is closed: NeedFrame,
// SuccessFrame and UnknownFrame.
type Frame interface {
	frameType() string
}

// NeedFrame asks the operator for a code for TaskID.
type NeedFrame struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// SuccessFrame reports that the backend completed verification through another path.
type SuccessFrame struct{}

// UnknownFrame carries the type of a frame the relay does not handle.
type UnknownFrame struct {
	Type string
}

func (NeedFrame) frameType() string    { return TypeVerificationNeeded }
func (SuccessFrame) frameType() string { return TypeVerificationSuccess }
func (f UnknownFrame) frameType() string {
	return f.Type
}

// TypeOf returns the wire type of f.
func TypeOf(f Frame) string {
	if f == nil {
		return ""
	}
	return f.frameType()
}

type envelope struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ParseFrame decodes one socket payload. Unknown types decode to UnknownFrame; invalid JSON or a
// missing type returns ErrMalformedFrame.
func ParseFrame(b []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch env.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	case TypeVerificationNeeded:
		return NeedFrame{TaskID: env.TaskID, Message: env.Message}, nil
	case TypeVerificationSuccess:
		return SuccessFrame{}, nil
	default:
		return UnknownFrame{Type: env.Type}, nil
	}
}

// SubscribeFrame is sent once after the socket opens.
type SubscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// NewSubscribeFrame returns the subscribe frame for the given channels.
func NewSubscribeFrame(channels ...string) SubscribeFrame {
	return SubscribeFrame{Type: TypeSubscribe, Channels: channels}
}

// SubmitRequest is the code submission body.
type SubmitRequest struct {
	Code string `json:"code"`
}

// SubmitResponse is the code submission response body.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
