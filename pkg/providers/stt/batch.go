package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/voicebridge/core/pkg/audio"
)

// WhisperHTTP is a Whisper-API-shaped batch transcriber: it multipart-
// uploads a WAV buffer and reads back a {"text": ...} response. Grounded
// on the teacher's GroqSTT/OpenAISTT adapters, which share this exact
// shape against two different whisper-compatible endpoints; generalized
// here into one adapter parameterized by endpoint, model and API key so
// both providers are one type instead of two near-duplicates.
type WhisperHTTP struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	authHeader string
	authPrefix string
	client     *http.Client
}

// NewGroqWhisper builds a Whisper-API adapter against Groq's endpoint.
func NewGroqWhisper(apiKey, model string) *WhisperHTTP {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return newWhisperHTTP(apiKey, "https://api.groq.com/openai/v1/audio/transcriptions", model, "Authorization", "Bearer ")
}

// NewOpenAIWhisper builds a Whisper-API adapter against OpenAI's endpoint.
func NewOpenAIWhisper(apiKey, model string) *WhisperHTTP {
	if model == "" {
		model = "whisper-1"
	}
	return newWhisperHTTP(apiKey, "https://api.openai.com/v1/audio/transcriptions", model, "Authorization", "Bearer ")
}

func newWhisperHTTP(apiKey, url, model, authHeader, authPrefix string) *WhisperHTTP {
	return &WhisperHTTP{
		apiKey:     apiKey,
		url:        url,
		model:      model,
		sampleRate: audio.ProviderSampleRate,
		authHeader: authHeader,
		authPrefix: authPrefix,
		client:     http.DefaultClient,
	}
}

func (s *WhisperHTTP) Name() string { return "whisper-http:" + s.model }

func (s *WhisperHTTP) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	wavData := audio.NewWavBuffer(pcm, s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(s.authHeader, s.authPrefix+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s transcription error (status %d): %s", s.Name(), resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
