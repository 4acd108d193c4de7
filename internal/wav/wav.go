// Package wav stitches per-line speech clips into one podcast track. Clips
// are decoded, trimmed of leading and trailing silence, and concatenated at
// their native sample rate with a fixed silent gap between lines.
package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultGap is the silence inserted between consecutive lines.
const DefaultGap = 250 * time.Millisecond

// trimThresholdDB is how far below a clip's peak a sample must stay to count
// as silence.
const trimThresholdDB = 20.0

// Clip is one decoded audio segment.
type Clip struct {
	buf *audio.IntBuffer
}

// Decode parses a complete WAV payload.
func Decode(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: decode: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("wav: clip contains no samples")
	}
	return &Clip{buf: buf}, nil
}

// SampleRate returns the clip's native sample rate.
func (c *Clip) SampleRate() int {
	return c.buf.Format.SampleRate
}

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration {
	frames := len(c.buf.Data) / c.buf.Format.NumChannels
	return time.Duration(frames) * time.Second / time.Duration(c.buf.Format.SampleRate)
}

// TrimSilence removes leading and trailing samples quieter than 20 dB below
// the clip's peak. A clip that is entirely silence keeps a single frame so
// downstream concatenation still has valid audio to work with.
func (c *Clip) TrimSilence() {
	peak := 0
	for _, s := range c.buf.Data {
		if a := abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		c.buf.Data = c.buf.Data[:c.buf.Format.NumChannels]
		return
	}

	// -20 dB relative to peak is a factor of 10 in amplitude.
	threshold := peak / 10

	start := 0
	for start < len(c.buf.Data) && abs(c.buf.Data[start]) < threshold {
		start++
	}
	end := len(c.buf.Data)
	for end > start && abs(c.buf.Data[end-1]) < threshold {
		end--
	}

	// Keep frame alignment for multi-channel audio.
	ch := c.buf.Format.NumChannels
	start -= start % ch
	if rem := end % ch; rem != 0 {
		end += ch - rem
		if end > len(c.buf.Data) {
			end = len(c.buf.Data)
		}
	}
	c.buf.Data = c.buf.Data[start:end]
}

// Stitch trims every clip and joins them with gap-length silence between
// consecutive clips, returning a complete WAV payload. All clips must share
// the first clip's format.
func Stitch(clips []*Clip, gap time.Duration) ([]byte, error) {
	if len(clips) == 0 {
		return nil, errors.New("wav: no clips to stitch")
	}

	format := clips[0].buf.Format
	bitDepth := clips[0].buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	gapFrames := int(time.Duration(format.SampleRate) * gap / time.Second)
	gapSamples := gapFrames * format.NumChannels

	var data []int
	for i, c := range clips {
		if c.buf.Format.SampleRate != format.SampleRate || c.buf.Format.NumChannels != format.NumChannels {
			return nil, fmt.Errorf("wav: clip %d format %dHz/%dch does not match %dHz/%dch",
				i, c.buf.Format.SampleRate, c.buf.Format.NumChannels,
				format.SampleRate, format.NumChannels)
		}
		c.TrimSilence()
		if i > 0 {
			data = append(data, make([]int, gapSamples)...)
		}
		data = append(data, c.buf.Data...)
	}

	out := &audio.IntBuffer{
		Format:         format,
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	return encode(out, bitDepth)
}

// encode writes buf as a WAV file into memory.
func encode(buf *audio.IntBuffer, bitDepth int) ([]byte, error) {
	var ws writeSeeker
	enc := wav.NewEncoder(&ws, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: finalize: %w", err)
	}
	return ws.data, nil
}

// writeSeeker is an in-memory io.WriteSeeker for the WAV encoder, which
// seeks back to patch the RIFF header on Close.
type writeSeeker struct {
	data []byte
	pos  int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.data) {
		grown := make([]byte, need)
		copy(grown, ws.data)
		ws.data = grown
	}
	copy(ws.data[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = ws.pos + int(offset)
	case io.SeekEnd:
		next = len(ws.data) + int(offset)
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("wav: negative seek position")
	}
	ws.pos = next
	return int64(next), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
