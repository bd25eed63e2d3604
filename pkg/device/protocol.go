package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags an envelope.
type MessageType string

const (
	TypeSpeak   MessageType = "speak"
	TypeVibrate MessageType = "vibrate"
	TypeCancel  MessageType = "cancel"
	TypeAudio   MessageType = "audio"
	TypeStatus  MessageType = "status"
)

// Envelope is the JSON frame exchanged with the device shell.
type Envelope struct {
	Type MessageType     `json:"type"`
	TS   int64           `json:"ts"` // unix milliseconds
	Data json.RawMessage `json:"data,omitempty"`
}

// SpeakCommand asks the device's own speech engine to say Text.
type SpeakCommand struct {
	Text    string `json:"text"`
	Flush   bool   `json:"flush"`
	Urgency string `json:"urgency,omitempty"`
}

// VibrateCommand is a waveform for the device vibrator.
type VibrateCommand struct {
	Pattern     string  `json:"pattern"`
	TimingsMs   []int64 `json:"timings_ms"`
	Intensities []int   `json:"intensities"`
}

// Cancel targets.
const (
	CancelSpeech = "speech"
	CancelHaptic = "haptic"
	CancelAll    = "all"
)

// CancelCommand stops output on the device.
type CancelCommand struct {
	Target string `json:"target"`
}

// AudioCommand carries synthesized audio for the device to play.
type AudioCommand struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Audio      []byte `json:"audio"` // base64 in JSON
}

// StatusReport is sent by the device on connect and whenever its speech
// engine changes state.
type StatusReport struct {
	DeviceID  string `json:"device_id"`
	TTSReady  bool   `json:"tts_ready"`
	HapticsOK bool   `json:"haptics_ok"`
	Battery   int    `json:"battery,omitempty"`
}

// Encode wraps payload in an envelope stamped with at.
func Encode(t MessageType, at time.Time, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("device: encode %s: %w", t, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: t, TS: at.UnixMilli(), Data: raw})
}

// Decode parses an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("device: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("device: envelope without type")
	}
	return env, nil
}
