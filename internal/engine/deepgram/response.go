package deepgram

import (
	"encoding/json"
	"strings"
)

type listenAlternative struct {
	Transcript string `json:"transcript"`
}

type listenChannel struct {
	Alternatives []listenAlternative `json:"alternatives"`
}

// listenResponse covers both the streaming shape (top-level channel) and the
// batch shape (results.channels) Deepgram uses across API versions.
type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel listenChannel `json:"channel"`

	Results struct {
		Channels []listenChannel `json:"channels"`
	} `json:"results"`
}

func decodeListenResponse(payload []byte) (listenResponse, bool) {
	var response listenResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return listenResponse{}, false
	}
	return response, true
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}
