package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/voicebridge/core/pkg/audio"
)

// DeepgramBatch is a single-shot HTTP transcription adapter for a
// complete audio buffer; the bridge's call path uses the streaming
// adapter instead. Adapted from the teacher's
// DeepgramSTT, generalized to this package's plain-string language
// parameter and the provider sample rate.
type DeepgramBatch struct {
	apiKey string
	url    string
	client *http.Client
}

// NewDeepgramBatch builds a batch Deepgram transcription adapter.
func NewDeepgramBatch(apiKey string) *DeepgramBatch {
	return &DeepgramBatch{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen", client: http.DefaultClient}
}

func (s *DeepgramBatch) Name() string { return "deepgram-batch" }

func (s *DeepgramBatch) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if language != "" {
		params.Set("language", language)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(pcm))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", audio.ProviderSampleRate))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}
