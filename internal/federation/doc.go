// Package federation implements one verification strategy per federated
// identity provider (Google, Facebook, Apple, GitHub), each normalizing to
// the same Identity shape.
//
// Failure semantics are uniform: every internal cause wraps ErrRejected, and
// strategies never retry — a retry of a verification call from inside the
// core could amplify brute-force probing.
package federation
