package wav

import (
	"testing"
	"time"

	"github.com/go-audio/audio"
)

const testRate = 8000

// tone builds a clip of frames loud samples surrounded by quiet padding.
func tone(t *testing.T, frames, padFrames int) *Clip {
	t.Helper()
	data := make([]int, 0, frames+2*padFrames)
	for i := 0; i < padFrames; i++ {
		data = append(data, 1) // well below any -20 dB threshold
	}
	for i := 0; i < frames; i++ {
		data = append(data, 10000)
	}
	for i := 0; i < padFrames; i++ {
		data = append(data, 1)
	}
	return &Clip{buf: &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: testRate, NumChannels: 1},
		Data:           data,
		SourceBitDepth: 16,
	}}
}

func TestTrimSilence(t *testing.T) {
	c := tone(t, 100, 40)
	c.TrimSilence()
	if got := len(c.buf.Data); got != 100 {
		t.Errorf("samples after trim = %d, want 100", got)
	}
	for i, s := range c.buf.Data {
		if s != 10000 {
			t.Fatalf("sample %d = %d, want loud sample", i, s)
		}
	}
}

func TestTrimSilence_AllQuiet(t *testing.T) {
	c := &Clip{buf: &audio.IntBuffer{
		Format: &audio.Format{SampleRate: testRate, NumChannels: 1},
		Data:   make([]int, 50),
	}}
	c.TrimSilence()
	if len(c.buf.Data) != 1 {
		t.Errorf("samples = %d, want single frame kept", len(c.buf.Data))
	}
}

func TestStitch_InsertsGaps(t *testing.T) {
	clips := []*Clip{
		tone(t, 80, 20),
		tone(t, 80, 20),
		tone(t, 80, 20),
		tone(t, 80, 20),
	}

	payload, err := Stitch(clips, DefaultGap)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}

	combined, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode stitched output: %v", err)
	}
	if combined.SampleRate() != testRate {
		t.Errorf("sample rate = %d, want native %d", combined.SampleRate(), testRate)
	}

	gapFrames := testRate * int(DefaultGap/time.Millisecond) / 1000
	want := 4*80 + 3*gapFrames
	if got := len(combined.buf.Data); got != want {
		t.Errorf("total samples = %d, want %d (4 clips + 3 gaps)", got, want)
	}

	// The stretch right after the first clip must be silent for gapFrames.
	for i := 80; i < 80+gapFrames; i++ {
		if combined.buf.Data[i] != 0 {
			t.Fatalf("sample %d = %d, want silence in gap", i, combined.buf.Data[i])
		}
	}
	// And the second clip starts immediately after the gap.
	if s := combined.buf.Data[80+gapFrames]; s == 0 {
		t.Error("second clip did not start after the gap")
	}
}

func TestStitch_RejectsMixedFormats(t *testing.T) {
	a := tone(t, 10, 0)
	b := tone(t, 10, 0)
	b.buf.Format = &audio.Format{SampleRate: 44100, NumChannels: 1}

	if _, err := Stitch([]*Clip{a, b}, DefaultGap); err == nil {
		t.Fatal("expected error for mismatched sample rates")
	}
}

func TestStitch_Empty(t *testing.T) {
	if _, err := Stitch(nil, DefaultGap); err == nil {
		t.Fatal("expected error for no clips")
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	c := tone(t, 64, 0)
	payload, err := Stitch([]*Clip{c}, DefaultGap)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.buf.Data) != 64 {
		t.Errorf("samples = %d, want 64", len(decoded.buf.Data))
	}
	if decoded.Duration() != 64*time.Second/testRate {
		t.Errorf("duration = %v", decoded.Duration())
	}
}
