package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"sync/atomic"
)

// DataPrefix marks a data frame line.
const DataPrefix = "data: "

// MaxLineSize bounds a single line of the feed. Longer lines are dropped.
const MaxLineSize = 1 << 20

// dataRecord is the shape of a data frame payload. Fields stay raw so each
// one can be type-checked on its own.
type dataRecord struct {
	MsgID   json.RawMessage `json:"msg_id"`
	Choices json.RawMessage `json:"c"`
	Value   json.RawMessage `json:"v"`
}

type choiceRecord struct {
	Tag   json.RawMessage `json:"c"`
	Value json.RawMessage `json:"v"`
}

type notification struct {
	Code json.RawMessage `json:"code"`
}

// Decoder turns a line-framed reply feed into events.
type Decoder struct {
	reader *bufio.Reader
	line   []byte
	used   atomic.Bool
	err    error
}

// NewDecoder creates a decoder reading from r. The caller owns r and
// closes it after the events have been consumed.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Events returns the event sequence. It may be ranged over once; later
// calls yield nothing. Iteration stops after an ErrorEvent, at end of
// input, or on a read error reported by Err. A line longer than
// MaxLineSize is skipped as Unparseable.
func (d *Decoder) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !d.used.CompareAndSwap(false, true) {
			return
		}

		var buf []Event
		for {
			line, oversized, err := d.readLine()
			if err != nil {
				if err != io.EOF {
					d.err = err
				}
				return
			}

			if oversized {
				buf = append(buf[:0], Unparseable{})
			} else {
				buf = DecodeLine(string(line), buf[:0])
			}
			for _, ev := range buf {
				if !yield(ev) {
					return
				}
				if _, terminal := ev.(ErrorEvent); terminal {
					return
				}
			}
		}
	}
}

// readLine returns the next line without its terminator. An oversized line
// is read to its end but not kept.
func (d *Decoder) readLine() ([]byte, bool, error) {
	d.line = d.line[:0]
	oversized := false
	for {
		frag, more, err := d.reader.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !oversized {
			if len(d.line)+len(frag) > MaxLineSize {
				oversized = true
				d.line = d.line[:0]
			} else {
				d.line = append(d.line, frag...)
			}
		}
		if !more {
			return d.line, oversized, nil
		}
	}
}

// Err returns the first read error hit during iteration, if any.
func (d *Decoder) Err() error {
	return d.err
}

// DecodeLine appends the events carried by one line to dst.
func DecodeLine(line string, dst []Event) []Event {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return dst
	}

	if !strings.HasPrefix(line, DataPrefix) {
		if ev, ok := decodeNotification(line); ok {
			return append(dst, ev)
		}
		return dst
	}

	raw := strings.TrimPrefix(line, DataPrefix)
	if strings.TrimSpace(raw) == "" {
		return dst
	}
	return decodeData(raw, dst)
}

func decodeNotification(line string) (Event, bool) {
	var n notification
	if err := json.Unmarshal([]byte(line), &n); err != nil {
		return nil, false
	}
	var code string
	if err := json.Unmarshal(n.Code, &code); err != nil || code != ChoiceShownCode {
		return nil, false
	}
	ev, err := NewErrorEvent(code)
	if err != nil {
		return nil, false
	}
	return ev, true
}

func decodeData(raw string, dst []Event) []Event {
	var rec dataRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return append(dst, Unparseable{})
	}

	start := len(dst)

	var id string
	if len(rec.MsgID) > 0 && json.Unmarshal(rec.MsgID, &id) == nil {
		if ev, err := NewMessageIDEvent(id); err == nil {
			dst = append(dst, ev)
		}
	}

	var choices []json.RawMessage
	if len(rec.Choices) > 0 && json.Unmarshal(rec.Choices, &choices) == nil && choices != nil {
		for _, rawChoice := range choices {
			if ev, ok := decodeChoice(rawChoice); ok {
				dst = append(dst, ev)
			}
		}
	} else {
		var text string
		if present(rec.Value) && json.Unmarshal(rec.Value, &text) == nil {
			dst = append(dst, PlainTextEvent{Text: text})
		}
	}

	if len(dst) == start {
		return append(dst, Unparseable{})
	}
	return dst
}

// decodeChoice accepts a choice only when its tag is the accepted one. A
// missing tag counts as accepted.
func decodeChoice(raw json.RawMessage) (Event, bool) {
	var c choiceRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}

	tag := float64(AcceptedChoice)
	if len(c.Tag) > 0 {
		if err := json.Unmarshal(c.Tag, &tag); err != nil {
			return nil, false
		}
	}
	if tag != AcceptedChoice {
		return nil, false
	}

	var text string
	if !present(c.Value) || json.Unmarshal(c.Value, &text) != nil {
		return nil, false
	}

	ev, err := NewChoiceTextEvent(int(tag), text)
	if err != nil {
		return nil, false
	}
	return ev, true
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
