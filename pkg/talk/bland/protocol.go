package bland

// Frames exchanged with the voice endpoint. Microphone audio travels as
// binary frames of mono pcm_s16le; assistant audio arrives either as binary
// frames or base64 inside a message frame.

const (
	frameStart   = "start"
	frameStop    = "stop"
	frameReady   = "ready"
	frameMessage = "message"
	frameError   = "error"

	encodingPCM16 = "pcm_s16le"
)

type startFrame struct {
	Type       string `json:"type"`
	AgentID    string `json:"agent_id"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Channels   int    `json:"channels"`
}

type stopFrame struct {
	Type string `json:"type"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Audio   []byte `json:"audio,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
