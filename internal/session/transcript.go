package session

import "strings"

// AudioTranscript is the per-session view handed to the screening UI and
// the assessor. It is rebuilt on every fetch and never persisted.
type AudioTranscript struct {
	SessionID  string `json:"session_id"`
	Audio      any    `json:"audio"`
	Transcript any    `json:"transcript"`
	Patient    any    `json:"patient"`
}

// NewAudioTranscript extracts the transcript view of tree under key.
func NewAudioTranscript(key string, tree map[string]any) AudioTranscript {
	return AudioTranscript{
		SessionID:  key,
		Audio:      tree["audio"],
		Transcript: tree["transcript"],
		Patient:    tree["patient"],
	}
}

// Text joins the transcript of every audio segment with a blank line. When
// no segment carries text it falls back to a string-valued Transcript.
func (a AudioTranscript) Text() string {
	if segments, ok := a.Audio.([]any); ok {
		parts := make([]string, 0, len(segments))
		for _, seg := range segments {
			m, ok := seg.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["transcript"].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}
	if s, ok := a.Transcript.(string); ok {
		return s
	}
	return ""
}
