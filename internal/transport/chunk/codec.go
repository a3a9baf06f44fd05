// Package chunk implements the chunked message protocol used to move large
// binary payloads (translated audio) over a size-capped data channel. A
// payload is split into ordered frames sharing one message identifier; the
// receiving side reassembles them exactly once per message, tolerating
// out-of-order and duplicated arrival.
package chunk

import (
	"errors"
	"fmt"
)

const DefaultFrameSize = 1024

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrTransferStalled = errors.New("transfer stalled")
)

// Meta describes the payload and is attached once, at message-open time.
type Meta struct {
	FromLanguage   string `msgpack:"fromLanguage" json:"fromLanguage"`
	ToLanguage     string `msgpack:"toLanguage" json:"toLanguage"`
	SourceText     string `msgpack:"sourceText" json:"sourceText"`
	TranslatedText string `msgpack:"translatedText" json:"translatedText"`
}

// Info opens a logical message on the wire. It is emitted strictly before any
// chunk of the same message.
type Info struct {
	MessageID   string `msgpack:"messageId" json:"messageId"`
	TotalChunks int    `msgpack:"totalChunks" json:"totalChunks"`
	Meta        Meta   `msgpack:"meta" json:"meta"`
}

// Chunk carries one size-bounded fragment. Total is repeated on every chunk
// so a receiver can allocate before the info frame arrives.
type Chunk struct {
	MessageID string `msgpack:"messageId" json:"messageId"`
	Index     int    `msgpack:"chunkIndex" json:"chunkIndex"`
	Total     int    `msgpack:"totalChunks" json:"totalChunks"`
	Data      []byte `msgpack:"data" json:"data"`
}

// Message is a fully reassembled payload handed to the consumer.
type Message struct {
	MessageID string
	Meta      Meta
	Payload   []byte
}

// Split fragments payload into ceil(len/frameSize) ordered chunks under one
// message id. frameSize <= 0 falls back to DefaultFrameSize.
func Split(messageID string, payload []byte, frameSize int, meta Meta) (Info, []Chunk, error) {
	if messageID == "" {
		return Info{}, nil, fmt.Errorf("%w: empty message id", ErrMalformedFrame)
	}
	if len(payload) == 0 {
		return Info{}, nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	total := (len(payload) + frameSize - 1) / frameSize
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		lo := i * frameSize
		hi := lo + frameSize
		if hi > len(payload) {
			hi = len(payload)
		}
		chunks = append(chunks, Chunk{
			MessageID: messageID,
			Index:     i,
			Total:     total,
			Data:      payload[lo:hi],
		})
	}
	info := Info{MessageID: messageID, TotalChunks: total, Meta: meta}
	return info, chunks, nil
}
