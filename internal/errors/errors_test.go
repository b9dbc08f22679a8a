package errors

import (
	"errors"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(PoolExhausted, "no available contexts")
	if err.Error() != "[POOL_EXHAUSTED] no available contexts" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAppErrorWithMetadataAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, InferenceFailed, "transcribe failed").WithMetadata("session_id", "abc123")

	if err.Cause != cause {
		t.Error("expected cause to be preserved")
	}
	if err.Metadata["session_id"] != "abc123" {
		t.Errorf("Metadata[session_id] = %q, want abc123", err.Metadata["session_id"])
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should unwrap to cause")
	}
}

func TestIsCode(t *testing.T) {
	err := New(DetectorFailed, "vad probability failed")
	if !IsCode(err, DetectorFailed) {
		t.Error("expected IsCode(DetectorFailed) to be true")
	}
	if IsCode(err, ModelLoadFailed) {
		t.Error("expected IsCode(ModelLoadFailed) to be false")
	}
	if IsCode(errors.New("plain error"), DetectorFailed) {
		t.Error("plain errors should never match a code")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(errors.New("plain")) != Unknown {
		t.Error("plain error should report Unknown")
	}
	if CodeOf(New(ConfigInvalid, "bad")) != ConfigInvalid {
		t.Error("expected ConfigInvalid")
	}
}

func TestErrorCodeString(t *testing.T) {
	cases := map[ErrorCode]string{
		ConfigInvalid:   "CONFIG_INVALID",
		ModelLoadFailed: "MODEL_LOAD_FAILED",
		PoolExhausted:   "POOL_EXHAUSTED",
		InferenceFailed: "INFERENCE_FAILED",
		DetectorFailed:  "DETECTOR_FAILED",
		ProtocolMisuse:  "PROTOCOL_MISUSE",
		Unknown:         "UNKNOWN",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}
