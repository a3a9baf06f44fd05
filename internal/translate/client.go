// Package translate is a thin client for the external speech translation
// endpoint. The transport layer only moves the returned buffer; nothing here
// is translated locally.
package translate

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 30 * time.Second

// Result carries the translated audio plus the side-channel text metadata the
// endpoint returns in headers.
type Result struct {
	Audio          []byte
	SourceText     string
	TranslatedText string
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Translate posts raw audio with a language pair and returns the translated
// audio buffer. Text metadata travels base64-encoded in response headers.
func (c *Client) Translate(ctx context.Context, audio []byte, fromLang, toLang string) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "recording.webm")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.WriteField("source_language", fromLang); err != nil {
		return nil, err
	}
	if err := mw.WriteField("target_language", toLang); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate-audio", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translate request: unexpected status %d", resp.StatusCode)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	res := &Result{Audio: out}
	res.SourceText = decodeHeader(resp.Header, "Source-Text-Base64")
	res.TranslatedText = decodeHeader(resp.Header, "Translated-Text-Base64")

	log.Debug().Str("module", "translate").
		Str("from", fromLang).Str("to", toLang).
		Int("audio_bytes", len(res.Audio)).Msg("translation received")
	return res, nil
}

func decodeHeader(h http.Header, key string) string {
	v := h.Get(key)
	if v == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		log.Warn().Err(err).Str("module", "translate").Str("header", key).Msg("bad metadata header")
		return ""
	}
	return string(decoded)
}
