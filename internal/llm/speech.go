package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"

	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

const speechMimeType = "audio/ogg"

// Synthesize turns text into an Opus voice note.
func (c *Client) Synthesize(ctx context.Context, text string) (*response.Audio, error) {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(c.speechVoice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatOpus,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrMalformed)
	}
	return &response.Audio{Data: data, MimeType: speechMimeType}, nil
}

// namedReader gives the upload a filename so the API can infer the format.
type namedReader struct {
	*bytes.Reader
	name, contentType string
}

func (r namedReader) Filename() string    { return r.name }
func (r namedReader) ContentType() string { return r.contentType }

// Transcribe turns an inbound voice note into text.
func (c *Client) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrMalformed)
	}
	ext := "ogg"
	if i := strings.LastIndex(mimeType, "/"); i >= 0 && !strings.Contains(mimeType, "ogg") {
		ext = strings.SplitN(mimeType[i+1:], ";", 2)[0]
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  namedReader{Reader: bytes.NewReader(data), name: "voice." + ext, contentType: mimeType},
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcription", ErrMalformed)
	}
	return text, nil
}
