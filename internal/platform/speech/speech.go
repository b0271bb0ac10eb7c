// Package speech wraps external speech-to-text and text-to-speech servers.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNotConfigured is returned when no engine URL was supplied.
var ErrNotConfigured = errors.New("speech engine not configured")

// MaxAudioSize bounds both uploaded and synthesized audio.
const MaxAudioSize = 10 * 1024 * 1024

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, fileName string, audio io.Reader) (string, error)
}

// Synthesizer renders text as audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// WhisperClient posts audio to a whisper.cpp style /inference endpoint.
type WhisperClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewWhisperClient(baseURL string) *WhisperClient {
	return &WhisperClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (w *WhisperClient) Transcribe(ctx context.Context, fileName string, audio io.Reader) (string, error) {
	if w.baseURL == "" {
		return "", ErrNotConfigured
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, io.LimitReader(audio, MaxAudioSize)); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcribe: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// TTSClient talks to an HTTP text-to-speech server. The engine handle
// (selected voice) is resolved on first use and shared afterwards. A failed
// initialisation is retried on the next call.
type TTSClient struct {
	baseURL    string
	rate       int
	httpClient *http.Client

	mu     sync.Mutex
	engine *ttsEngine
}

type ttsEngine struct {
	voice string
}

func NewTTSClient(baseURL string) *TTSClient {
	return &TTSClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		rate:       165,
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

type voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (t *TTSClient) getEngine(ctx context.Context) (*ttsEngine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine != nil {
		return t.engine, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("list voices: %s", resp.Status)
	}
	var voices []voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}

	t.engine = &ttsEngine{voice: pickVoice(voices)}
	return t.engine, nil
}

// pickVoice prefers an English voice and falls back to the first one.
func pickVoice(voices []voice) string {
	for _, v := range voices {
		lang := strings.ToLower(v.Language)
		if strings.HasPrefix(lang, "en") || strings.Contains(strings.ToLower(v.Name), "english") {
			return v.ID
		}
	}
	if len(voices) > 0 {
		return voices[0].ID
	}
	return ""
}

func (t *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if t.baseURL == "" {
		return nil, "", ErrNotConfigured
	}
	eng, err := t.getEngine(ctx)
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(map[string]any{"text": text, "voice": eng.voice, "rate": t.rate})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("synthesize: %s", resp.Status)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, MaxAudioSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	if len(audio) > MaxAudioSize {
		return nil, "", fmt.Errorf("synthesized audio exceeds %d bytes", MaxAudioSize)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/wav"
	}
	return audio, contentType, nil
}
