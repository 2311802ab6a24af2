package storage

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindNotFound, Op: "open", Key: "a/b/c/d.png"}
	want := "open a/b/c/d.png: not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	err = &Error{Kind: KindUpstream, Op: "put", Err: fmt.Errorf("connection refused")}
	want = "put: connection refused"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := &Error{Kind: KindUpstream, Op: "stat", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Unwrap lost the inner error")
	}
}

func TestKindPredicates(t *testing.T) {
	notFound := &Error{Kind: KindNotFound, Op: "stat"}
	tooLarge := &Error{Kind: KindPayloadTooLarge, Op: "ingest"}
	timeout := &Error{Kind: KindTimeout, Op: "open"}

	if !IsNotFound(notFound) || IsNotFound(tooLarge) {
		t.Error("IsNotFound misclassified")
	}
	if !IsPayloadTooLarge(tooLarge) || IsPayloadTooLarge(timeout) {
		t.Error("IsPayloadTooLarge misclassified")
	}
	if !IsTimeout(timeout) || IsTimeout(notFound) {
		t.Error("IsTimeout misclassified")
	}
	if IsNotFound(fmt.Errorf("plain error")) {
		t.Error("IsNotFound matched a plain error")
	}
}

// Predicates must see through wrapping.
func TestKindPredicatesWrapped(t *testing.T) {
	err := fmt.Errorf("request failed: %w", &Error{Kind: KindNotFound, Op: "stat", Key: "k"})
	if !IsNotFound(err) {
		t.Error("IsNotFound failed on wrapped error")
	}
}
