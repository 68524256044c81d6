package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsIdempotent(t *testing.T) {
	d := NewDevice()
	defer d.Release()

	h1, err := d.Acquire()
	require.NoError(t, err)
	h2, err := d.Acquire()
	require.NoError(t, err)
	assert.Same(t, h1, h2)
}

func TestReleaseDropsHandle(t *testing.T) {
	d := NewDevice()
	h1, err := d.Acquire()
	require.NoError(t, err)
	d.Release()

	h2, err := d.Acquire()
	require.NoError(t, err)
	defer d.Release()
	assert.NotSame(t, h1, h2)

	// Releasing twice is harmless.
	d.Release()
	d.Release()
}

func TestCaptureTrack(t *testing.T) {
	d := NewDevice()
	defer d.Release()
	h, err := d.Acquire()
	require.NoError(t, err)

	c, ok := h.(*Capture)
	require.True(t, ok)
	require.NotNil(t, c.Track())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, c.Track().Kind())
	assert.Equal(t, webrtc.MimeTypeOpus, c.Track().Codec().MimeType)

	c.SetEnabled(true)
	c.SetEnabled(false)
}
