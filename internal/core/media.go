package core

// CaptureHandle is the acquired local audio source. Transmit gating happens
// via SetEnabled; the device itself stays open across sessions to avoid
// repeated permission prompts.
type CaptureHandle interface {
	SetEnabled(bool)
}

// MediaDevice owns local audio capture. Acquire is idempotent and returns
// the existing handle when already acquired.
type MediaDevice interface {
	Acquire() (CaptureHandle, error)
	Release()
}
