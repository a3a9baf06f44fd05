package peer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dkeye/Parley/internal/transport/chunk"
)

// Frame type discriminators for the peer data channel.
const (
	FrameTranscript          = "transcript"
	FrameLanguagePreferences = "language-preferences"
	FrameRecordingStarted    = "recording-started"
	FrameRecordingStopped    = "recording-stopped"
	FrameAudioInfo           = "audio-info"
	FrameAudioChunk          = "audio-chunk"
	FramePeerInfo            = "peer-info"
)

type LanguagePreferences struct {
	Speaks      string `msgpack:"speaks" json:"speaks"`
	WantsToHear string `msgpack:"wantsToHear" json:"wantsToHear"`
}

// Frame is the wire record multiplexed over one data channel. Fields are
// populated according to Type; everything else stays zero and is omitted.
type Frame struct {
	Type string `msgpack:"type"`

	// transcript
	Text string `msgpack:"text,omitempty"`

	// language-preferences
	Preferences *LanguagePreferences `msgpack:"preferences,omitempty"`

	// peer-info
	PeerID string `msgpack:"peerId,omitempty"`

	// audio-info / audio-chunk
	MessageID      string `msgpack:"messageId,omitempty"`
	TotalChunks    int    `msgpack:"totalChunks,omitempty"`
	ChunkIndex     int    `msgpack:"chunkIndex,omitempty"`
	Data           []byte `msgpack:"data,omitempty"`
	FromLanguage   string `msgpack:"fromLanguage,omitempty"`
	ToLanguage     string `msgpack:"toLanguage,omitempty"`
	SourceText     string `msgpack:"sourceText,omitempty"`
	TranslatedText string `msgpack:"translatedText,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", chunk.ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", chunk.ErrMalformedFrame)
	}
	return f, nil
}

func infoFrame(info chunk.Info) Frame {
	return Frame{
		Type:           FrameAudioInfo,
		MessageID:      info.MessageID,
		TotalChunks:    info.TotalChunks,
		FromLanguage:   info.Meta.FromLanguage,
		ToLanguage:     info.Meta.ToLanguage,
		SourceText:     info.Meta.SourceText,
		TranslatedText: info.Meta.TranslatedText,
	}
}

func chunkFrame(c chunk.Chunk) Frame {
	return Frame{
		Type:        FrameAudioChunk,
		MessageID:   c.MessageID,
		ChunkIndex:  c.Index,
		TotalChunks: c.Total,
		Data:        c.Data,
	}
}

func (f Frame) info() chunk.Info {
	return chunk.Info{
		MessageID:   f.MessageID,
		TotalChunks: f.TotalChunks,
		Meta: chunk.Meta{
			FromLanguage:   f.FromLanguage,
			ToLanguage:     f.ToLanguage,
			SourceText:     f.SourceText,
			TranslatedText: f.TranslatedText,
		},
	}
}

func (f Frame) chunk() chunk.Chunk {
	return chunk.Chunk{
		MessageID: f.MessageID,
		Index:     f.ChunkIndex,
		Total:     f.TotalChunks,
		Data:      f.Data,
	}
}
