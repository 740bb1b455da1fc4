package domain

import (
	"regexp"
	"strings"
	"time"
)

const (
	// CodeLength is the number of digit slots in a verification code.
	CodeLength = 6
	// CountdownStart is the default number of seconds an operator has to enter a code.
	CountdownStart = 60
	// UnknownPhone is shown when the prompt message does not name a phone number.
	UnknownPhone = "未知号码"
	// Channel is the logical notification channel the relay subscribes to.
	Channel = "verification"
)

// phonePattern matches the backend's prompt template, e.g. "请为手机 13800001111 输入验证码".
var phonePattern = regexp.MustCompile(`请为手机 (\S+) 输入`)

// ExtractPhone returns the phone number named in a backend prompt message, or UnknownPhone.
func ExtractPhone(message string) string {
	m := phonePattern.FindStringSubmatch(message)
	if len(m) < 2 || m[1] == "" {
		return UnknownPhone
	}
	return m[1]
}

// Session is a point-in-time copy of the active verification request.
// A zero Session is the idle state.
type Session struct {
	// SessionID correlates logs, telemetry and history for one opened prompt. Empty when idle.
	SessionID        string
	TaskID           string
	PromptMessage    string
	PhoneNumber      string
	Digits           [CodeLength]string
	CountdownSeconds int
	CountdownActive  bool
	Visible          bool
	OpenedAt         time.Time
}

// Code concatenates the digit slots in display order.
func (s Session) Code() string {
	return strings.Join(s.Digits[:], "")
}

// Complete reports whether every digit slot is filled.
func (s Session) Complete() bool {
	for _, d := range s.Digits {
		if d == "" {
			return false
		}
	}
	return true
}

// Idle reports whether no prompt is shown.
func (s Session) Idle() bool {
	return !s.Visible
}
