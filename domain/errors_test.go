package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("failed to start session: %w", E(KindTransport, "live.Start", "Could not reach the live service", cause))

	if !IsKind(err, KindTransport) {
		t.Errorf("Expected transport kind, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable through the chain")
	}
	if got := UserMessage(err); got != "Could not reach the live service" {
		t.Errorf("Unexpected user message %q", got)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{E(KindJob, "", "generation failed", nil), "generation failed"},
		{E(KindJob, "poll", "generation failed", nil), "poll: generation failed"},
		{E(KindCapture, "", "mic", errors.New("denied")), "mic: denied"},
		{E(KindCapture, "open", "mic", errors.New("denied")), "open: mic: denied"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("Expected empty kind for plain error")
	}
	if UserMessage(nil) != "" {
		t.Error("Expected empty message for nil error")
	}
}
