package stream

import (
	"errors"
	"fmt"
)

// ChoiceShownCode is the out-of-band code the backend sends when a branch
// must be picked before the conversation can continue.
const ChoiceShownCode = "chat_choice_shown"

// AcceptedChoice is the choice tag whose text belongs to the reply.
const AcceptedChoice = 0

var (
	errEmptyMessageID = errors.New("message id cannot be empty")
	errEmptyCode      = errors.New("error code cannot be empty")
)

// Event is one decoded unit of the reply feed. The set of implementations
// is closed: MessageIDEvent, ChoiceTextEvent, PlainTextEvent, ErrorEvent
// and Unparseable.
type Event interface {
	Kind() string
	isEvent()
}

// MessageIDEvent carries the id of the message being streamed.
type MessageIDEvent struct {
	ID string
}

// ChoiceTextEvent carries a text fragment of one branch choice.
type ChoiceTextEvent struct {
	Index int
	Text  string
}

// PlainTextEvent carries a text fragment outside any branch.
type PlainTextEvent struct {
	Text string
}

// ErrorEvent is a terminal out-of-band notification.
type ErrorEvent struct {
	Code string
}

// Unparseable stands for a line that matched no known shape.
type Unparseable struct{}

func (MessageIDEvent) Kind() string  { return "message_id" }
func (ChoiceTextEvent) Kind() string { return "choice_text" }
func (PlainTextEvent) Kind() string  { return "plain_text" }
func (ErrorEvent) Kind() string      { return "error" }
func (Unparseable) Kind() string     { return "unparseable" }

func (MessageIDEvent) isEvent()  {}
func (ChoiceTextEvent) isEvent() {}
func (PlainTextEvent) isEvent()  {}
func (ErrorEvent) isEvent()      {}
func (Unparseable) isEvent()     {}

// NewMessageIDEvent validates and builds a MessageIDEvent.
func NewMessageIDEvent(id string) (MessageIDEvent, error) {
	if id == "" {
		return MessageIDEvent{}, errEmptyMessageID
	}
	return MessageIDEvent{ID: id}, nil
}

// NewChoiceTextEvent validates and builds a ChoiceTextEvent.
func NewChoiceTextEvent(index int, text string) (ChoiceTextEvent, error) {
	if index < 0 {
		return ChoiceTextEvent{}, fmt.Errorf("choice index %d is negative", index)
	}
	return ChoiceTextEvent{Index: index, Text: text}, nil
}

// NewErrorEvent validates and builds an ErrorEvent.
func NewErrorEvent(code string) (ErrorEvent, error) {
	if code == "" {
		return ErrorEvent{}, errEmptyCode
	}
	return ErrorEvent{Code: code}, nil
}

// Accepted reports whether the choice belongs to the reply text.
func (e ChoiceTextEvent) Accepted() bool {
	return e.Index == AcceptedChoice
}
