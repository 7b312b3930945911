package stream

import (
	"errors"
	"strings"

	"github.com/harun/anuneko/internal/observability"
)

// ErrUnresolvedBranch is returned when the backend paused the reply on a
// branch choice the client has not confirmed.
var ErrUnresolvedBranch = errors.New("stream: branch choice not resolved")

// AggregatedReply is the folded result of one reply feed.
type AggregatedReply struct {
	Text string
	// LastMessageID is empty when the feed carried no message id.
	LastMessageID string
}

// HasMessageID reports whether a message id was seen.
func (r AggregatedReply) HasMessageID() bool {
	return r.LastMessageID != ""
}

// Aggregate consumes the decoder's events. An ErrorEvent wins over any text
// gathered before it; a read error is returned as is.
func Aggregate(d *Decoder) (AggregatedReply, error) {
	var (
		text  strings.Builder
		reply AggregatedReply
	)

	for ev := range d.Events() {
		observability.RecordStreamEvent(ev.Kind())

		switch e := ev.(type) {
		case MessageIDEvent:
			reply.LastMessageID = e.ID
		case ChoiceTextEvent:
			if e.Accepted() {
				text.WriteString(e.Text)
			}
		case PlainTextEvent:
			text.WriteString(e.Text)
		case ErrorEvent:
			return AggregatedReply{}, ErrUnresolvedBranch
		case Unparseable:
		}
	}

	if err := d.Err(); err != nil {
		return AggregatedReply{}, err
	}

	reply.Text = text.String()
	return reply, nil
}
