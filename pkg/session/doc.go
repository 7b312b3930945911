// Package session keeps the in-memory mapping from a user to the backend
// chat session it is talking to and the model that session uses.
//
// Invariants:
// - A user has at most one live session id at a time.
// - Every user has exactly one model; ModelA until switched.
// - Read-modify-write for the same user is serialized; different users never share a lock.
// - ClearAll is idempotent and the only way a session goes away.
//
// Usage:
//
//	store := session.NewStore()
//	store.SetSessionID("user-1", "chat-42")
//	sess, ok := store.Get("user-1")
//	_, _ = sess, ok
package session
