// Package stream decodes the line-framed reply feed of a chat session and
// folds it into a single reply.
//
// Invariants:
//   - Decoding is lazy and single-pass; a Decoder yields its events once.
//   - Unrecognized or malformed lines are skipped, never reported as errors.
//   - A chat_choice_shown notification ends decoding and turns the whole
//     reply into ErrUnresolvedBranch, whatever text came before it.
//
// Usage:
//
//	dec := stream.NewDecoder(body)
//	reply, err := stream.Aggregate(dec)
//	if errors.Is(err, stream.ErrUnresolvedBranch) {
//		// ask the caller to retry
//	}
//	_ = reply.Text
package stream
