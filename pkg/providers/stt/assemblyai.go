package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AssemblyAI is a poll-based batch transcription adapter (upload, submit,
// poll until completed). Adapted from the teacher's AssemblyAISTT with
// its language parameter generalized from orchestrator.Language to a
// plain string.
type AssemblyAI struct {
	apiKey string
	client *http.Client
}

// NewAssemblyAI builds an AssemblyAI batch transcription adapter.
func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{apiKey: apiKey, client: http.DefaultClient}
}

func (s *AssemblyAI) Name() string { return "assemblyai" }

func (s *AssemblyAI) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	uploadURL, err := s.upload(ctx, pcm)
	if err != nil {
		return "", err
	}
	transcriptID, err := s.submit(ctx, uploadURL, language)
	if err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
			text, status, err := s.getTranscript(ctx, transcriptID)
			if err != nil {
				return "", err
			}
			if status == "completed" {
				return text, nil
			}
			if status == "error" {
				return "", fmt.Errorf("assemblyai transcription failed")
			}
		}
	}
}

func (s *AssemblyAI) upload(ctx context.Context, pcm []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/upload", bytes.NewReader(pcm))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.UploadURL, nil
}

func (s *AssemblyAI) submit(ctx context.Context, uploadURL, language string) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if language != "" {
		payload["language_code"] = language
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.ID, nil
}

func (s *AssemblyAI) getTranscript(ctx context.Context, id string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.assemblyai.com/v2/transcript/"+id, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.Text, result.Status, nil
}
