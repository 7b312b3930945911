package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned when a keyword names neither model
	ErrUnknownModel = errors.New("unknown model keyword")
	// ErrSessionCreate wraps any failure to obtain a backend session id
	ErrSessionCreate = errors.New("session creation failed")
	// ErrSelectModel is returned when the backend refused a model switch
	ErrSelectModel = errors.New("model selection rejected")
)

// User-facing replies. Prompt and failure replies never carry the watermark.
const (
	MsgUnknownModel       = "Please specify a model to switch to: 橘猫 / 黑猫"
	MsgSwitchCreateFailed = "❌ Switch failed: could not create a session"
	MsgCreateFailed       = "❌ Failed to create a session, please try again later."
	MsgUnresolvedBranch   = "⚠️ A conversation branch was left unselected, please retry or start a new session."
	MsgRequestFailed      = "Request failed, please try again later."
)

// MsgEmptyChat asks for content after a bare command prefix
func MsgEmptyChat(prefix string) string {
	return fmt.Sprintf("❗ Please enter some content, e.g. %s hello", prefix)
}

// MsgSwitched confirms a model switch
func MsgSwitched(label string) string {
	return fmt.Sprintf("✨ Switched to: %s", label)
}

// MsgSwitchFailed reports a rejected model switch
func MsgSwitchFailed(label string) string {
	return fmt.Sprintf("❌ Failed to switch to %s", label)
}

// MsgNewSession confirms a new session and names its model
func MsgNewSession(label string) string {
	return fmt.Sprintf("New session created (current model: %s)!", label)
}
