// Package control translates user intents (pause, seek, volume, skip) into
// outbound protocol frames.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"

	v1 "lyra/shared/protocol/v1"
)

// ErrInvalidVolume rejects a non-finite volume before encoding.
var ErrInvalidVolume = errors.New("control: volume is not a finite number")

// FrameWriter delivers one complete encoded frame to the transport. The
// implementation owns the writer path (queue or channel); Controller never
// writes to the wire directly.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(ctx context.Context, frame []byte) error

func (f FrameWriterFunc) WriteFrame(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// Controller is a thin facade over the outbound command tags. Each request
// validates its argument, encodes, and hands the frame to the writer.
// Delivery is at-most-once: a write failure surfaces to the caller and is
// never retried here.
type Controller struct {
	w FrameWriter
}

// New constructs a Controller on top of a frame writer.
func New(w FrameWriter) *Controller {
	return &Controller{w: w}
}

// RequestPause asks the source to pause playback.
func (c *Controller) RequestPause(ctx context.Context) error {
	return c.request(ctx, v1.Pause{})
}

// RequestResume asks the source to resume playback.
func (c *Controller) RequestResume(ctx context.Context) error {
	return c.request(ctx, v1.Resume{})
}

// RequestForwardSong asks the source to skip to the next track.
func (c *Controller) RequestForwardSong(ctx context.Context) error {
	return c.request(ctx, v1.ForwardSong{})
}

// RequestBackwardSong asks the source to skip to the previous track.
func (c *Controller) RequestBackwardSong(ctx context.Context) error {
	return c.request(ctx, v1.BackwardSong{})
}

// RequestSetVolume asks the source to set its volume. The value is clamped
// to [0,1]; NaN and infinities are rejected.
func (c *Controller) RequestSetVolume(ctx context.Context, volume float64) error {
	if math.IsNaN(volume) || math.IsInf(volume, 0) {
		return ErrInvalidVolume
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return c.request(ctx, v1.SetVolume{Volume: volume})
}

// RequestSeek asks the source to seek to progressMs.
func (c *Controller) RequestSeek(ctx context.Context, progressMs uint64) error {
	return c.request(ctx, v1.SeekPlayProgress{ProgressMs: progressMs})
}

func (c *Controller) request(ctx context.Context, body v1.Body) error {
	frame, err := v1.Encode(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", v1.TagName(body.Tag()), err)
	}
	if err := c.w.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("write %s: %w", v1.TagName(body.Tag()), err)
	}
	return nil
}
