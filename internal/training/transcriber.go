package training

import (
	"context"
	"fmt"
)

// Transcriber converts training session audio into plain text. The core
// only requires that its output feed the extractor; the model behind it is
// a capability chosen at startup.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// StubTranscriber is the explicit Stub transcription mode for environments
// without a speech model. It returns a fixed, deterministic placeholder so
// audio sessions are accepted but clearly marked untranscribed.
type StubTranscriber struct{}

// NewStubTranscriber creates the stub transcription mode.
func NewStubTranscriber() *StubTranscriber {
	return &StubTranscriber{}
}

// Transcribe implements Transcriber.
func (StubTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"[STUB TRANSCRIPT] Audio transcription is not available in this deployment. Received %d bytes of audio.",
		len(audio),
	), nil
}

var _ Transcriber = (*StubTranscriber)(nil)
