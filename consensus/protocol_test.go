package consensus

import (
	"errors"
	"testing"
)

func TestCheckProtocolVersionAcceptsMatch(t *testing.T) {
	if err := CheckProtocolVersion("1.0.0", "1.0.0"); err != nil {
		t.Fatalf("expected matching versions to be accepted, got %v", err)
	}
}

func TestCheckProtocolVersionRejectsMismatch(t *testing.T) {
	err := CheckProtocolVersion("1.0.0", "0.9.0")
	if !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}
}

func TestCheckProtocolVersionRejectsNewerThanLatestKnown(t *testing.T) {
	err := CheckProtocolVersion("1.0.0", "9.9.9")
	if !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}
}
