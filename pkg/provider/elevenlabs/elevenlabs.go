// Package elevenlabs provides an ElevenLabs-backed TTS driver using the
// ElevenLabs streaming WebSocket API. Synthesised PCM is wrapped in a WAV
// container so downstream audio tooling can consume it directly.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/fylr-ai/fylr/pkg/provider"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_22050"
)

// Option is a functional option for configuring the ElevenLabs Driver.
type Option func(*Driver)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(d *Driver) {
		d.model = model
	}
}

// WithOutputFormat sets the audio output format. Only PCM formats
// ("pcm_16000", "pcm_22050", "pcm_24000", …) are supported because the
// driver packages the stream as WAV.
func WithOutputFormat(format string) Option {
	return func(d *Driver) {
		d.outputFormat = format
	}
}

// Driver implements provider.TTSCapable backed by the ElevenLabs
// streaming API.
type Driver struct {
	apiKey       string
	model        string
	outputFormat string
}

// New creates a new ElevenLabs Driver. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	d := &Driver{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(d)
	}
	if _, err := pcmSampleRate(d.outputFormat); err != nil {
		return nil, err
	}
	return d, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "elevenlabs" }

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// boiMessage is the initial "begin of input" handshake payload.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage is the JSON payload sent for each text fragment. An empty Text
// flushes and ends the stream.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Speak implements provider.TTSCapable. It opens a stream-input WebSocket,
// sends the full text, drains the audio until the final frame, and returns
// the collected PCM wrapped in a WAV container.
func (d *Driver) Speak(ctx context.Context, req provider.TTSRequest) (data []byte, mime string, err error) {
	if req.Text == "" {
		return nil, "", errors.New("elevenlabs: text must not be empty")
	}
	if req.Voice == "" {
		return nil, "", errors.New("elevenlabs: voice must not be empty")
	}

	model := req.Model
	if model == "" {
		model = d.model
	}
	sampleRate, err := pcmSampleRate(d.outputFormat)
	if err != nil {
		return nil, "", err
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, req.Voice, model, d.outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 22)

	// BOI message authenticates and configures the stream. The first text
	// value must be non-empty.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: settingsFromOptions(req.Options),
		XiAPIKey:      d.apiKey,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	msg, _ := json.Marshal(textMessage{Text: req.Text + " "})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flush, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: flush: %w", err)
	}

	var pcm bytes.Buffer
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			// A normal close after audio arrived means the stream ended
			// without an explicit final frame.
			if pcm.Len() > 0 && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, "", fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, "", fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}

	if pcm.Len() == 0 {
		return nil, "", errors.New("elevenlabs: no audio received")
	}
	return wrapWAV(pcm.Bytes(), sampleRate), "audio/wav", nil
}

// settingsFromOptions builds voice settings from a TTS options map, falling
// back to the ElevenLabs defaults.
func settingsFromOptions(opts map[string]any) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if opts == nil {
		return vs
	}
	if v, ok := floatOption(opts, "stability"); ok {
		vs.Stability = v
	}
	if v, ok := floatOption(opts, "similarity_boost"); ok {
		vs.SimilarityBoost = v
	}
	if v, ok := floatOption(opts, "style"); ok {
		vs.Style = v
	}
	if v, ok := opts["use_speaker_boost"].(bool); ok {
		vs.UseSpeakerBoost = v
	}
	return vs
}

func floatOption(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// pcmSampleRate extracts the sample rate from a "pcm_<rate>" output format.
func pcmSampleRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (need pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return rate, nil
}

// wrapWAV prefixes raw 16-bit mono little-endian PCM with a RIFF/WAVE header.
func wrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
