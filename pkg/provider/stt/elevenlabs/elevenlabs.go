// Package elevenlabs provides an ElevenLabs-backed STT provider using the
// Scribe speech-to-text REST API. It implements the stt.Provider interface.
package elevenlabs

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
	"time"

	"github.com/MrWong99/mirepoix/pkg/audio"
	"github.com/MrWong99/mirepoix/pkg/provider/stt"
	"github.com/MrWong99/mirepoix/pkg/types"
)

const (
	defaultBaseURL  = "https://api.elevenlabs.io"
	defaultModelID  = "scribe_v2"
	defaultLanguage = "eng"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModelID sets the Scribe model (e.g., "scribe_v2", "scribe_v1").
func WithModelID(id string) Option {
	return func(p *Provider) {
		p.modelID = id
	}
}

// WithLanguageCode sets the ISO 639-3 language code sent with every request
// (e.g., "eng", "deu"). Defaults to "eng".
func WithLanguageCode(code string) Option {
	return func(p *Provider) {
		p.language = code
	}
}

// WithBaseURL overrides the API base URL. Used mainly by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements stt.Provider backed by the ElevenLabs Scribe API.
// One Provider may serve concurrent Transcribe calls.
type Provider struct {
	apiKey     string
	baseURL    string
	modelID    string
	language   string
	httpClient *http.Client
}

// New creates a new ElevenLabs STT Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		modelID:    defaultModelID,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// scribeResponse is the JSON structure returned by POST /v1/speech-to-text.
type scribeResponse struct {
	Text                string  `json:"text"`
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float64 `json:"language_probability"`
}

// Transcribe encodes the utterance as WAV and submits it to the Scribe
// endpoint. Keyword hints are ignored; Scribe has no boost API.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*types.Transcript, error) {
	if len(req.PCM) == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", stt.ErrEmptyUtterance)
	}
	if req.SampleRate <= 0 {
		return nil, fmt.Errorf("elevenlabs: sample rate %d must be positive", req.SampleRate)
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	wav := audio.EncodeWAV(req.PCM, req.SampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("elevenlabs: write wav data: %w", err)
	}

	fields := map[string]string{
		"model_id":         p.modelID,
		"language_code":    lang,
		"tag_audio_events": "false",
		"diarize":          "false",
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("elevenlabs: write %s field: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	endpoint := p.baseURL + "/v1/speech-to-text"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response body: %w", err)
	}

	var result scribeResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("elevenlabs: parse JSON response: %w", err)
	}

	return &types.Transcript{
		Text:       strings.TrimSpace(result.Text),
		Confidence: result.LanguageProbability,
		Duration:   req.Duration(),
	}, nil
}
