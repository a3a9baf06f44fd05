package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplit_ExactAndRemainder(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 3500)

	info, chunks, err := Split("m1", payload, 1024, Meta{FromLanguage: "en", ToLanguage: "ru"})
	require.NoError(t, err)
	require.Equal(t, 4, info.TotalChunks)
	require.Len(t, chunks, 4)

	require.Len(t, chunks[0].Data, 1024)
	require.Len(t, chunks[1].Data, 1024)
	require.Len(t, chunks[2].Data, 1024)
	require.Len(t, chunks[3].Data, 428)

	for i, c := range chunks {
		require.Equal(t, "m1", c.MessageID)
		require.Equal(t, i, c.Index)
		require.Equal(t, 4, c.Total)
	}
	require.Equal(t, "en", info.Meta.FromLanguage)
}

func TestSplit_PayloadSmallerThanFrame(t *testing.T) {
	info, chunks, err := Split("m1", []byte("hello"), 1024, Meta{})
	require.NoError(t, err)
	require.Equal(t, 1, info.TotalChunks)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("hello"), chunks[0].Data)
}

func TestSplit_PayloadMultipleOfFrame(t *testing.T) {
	_, chunks, err := Split("m1", make([]byte, 2048), 1024, Meta{})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Len(t, chunks[1].Data, 1024)
}

func TestSplit_DefaultFrameSize(t *testing.T) {
	info, _, err := Split("m1", make([]byte, DefaultFrameSize+1), 0, Meta{})
	require.NoError(t, err)
	require.Equal(t, 2, info.TotalChunks)
}

func TestSplit_Rejects(t *testing.T) {
	_, _, err := Split("", []byte("x"), 1024, Meta{})
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, _, err = Split("m1", nil, 1024, Meta{})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestSplitThenAssemble_RoundTrip(t *testing.T) {
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	info, chunks, err := Split("m1", payload, 512, Meta{SourceText: "hi"})
	require.NoError(t, err)

	a := NewAssembler(0)
	msg, err := a.OnInfo(info)
	require.NoError(t, err)
	require.Nil(t, msg)

	for i, c := range chunks {
		msg, err = a.OnChunk(c)
		require.NoError(t, err)
		if i < len(chunks)-1 {
			require.Nil(t, msg)
		}
	}
	require.NotNil(t, msg)
	require.Equal(t, "m1", msg.MessageID)
	require.Equal(t, "hi", msg.Meta.SourceText)
	require.Equal(t, payload, msg.Payload)
}
