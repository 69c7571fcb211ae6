package captioner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// BackendConfig describes one model instance on one device.
type BackendConfig struct {
	Device   string
	Endpoint string
	ModelID  string
	Dtype    string
	Timeout  time.Duration
}

// HTTPBackend talks to a vision-language inference server over HTTP.
// One instance is bound to one device endpoint; generation streams
// newline-delimited JSON events so token progress can be reported while
// the call is in flight.
type HTTPBackend struct {
	cfg    BackendConfig
	client *http.Client
	log    hclog.Logger
}

// NewHTTPBackend creates a backend for one device endpoint.
func NewHTTPBackend(cfg BackendConfig, log hclog.Logger) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Device returns the device identifier this backend is bound to.
func (b *HTTPBackend) Device() string {
	return b.cfg.Device
}

type loadRequest struct {
	ModelID string `json:"model_id"`
	Device  string `json:"device"`
	Dtype   string `json:"dtype"`
}

// Prepare asks the inference server to load the model onto the device.
// Model loading is slow and memory-hungry; callers serialize Prepare
// across devices.
func (b *HTTPBackend) Prepare(ctx context.Context) error {
	body, err := json.Marshal(loadRequest{
		ModelID: b.cfg.ModelID,
		Device:  b.cfg.Device,
		Dtype:   b.cfg.Dtype,
	})
	if err != nil {
		return err
	}

	resp, err := b.post(ctx, "/v1/model/load", body)
	if err != nil {
		return fmt.Errorf("load model on %s: %w", b.cfg.Device, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("load model on %s: server returned %s", b.cfg.Device, resp.Status)
	}
	b.log.Info("model prepared", "device", b.cfg.Device, "model", b.cfg.ModelID)
	return nil
}

type generateRequest struct {
	Frames      []string `json:"frames"` // base64 JPEG
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stream      bool     `json:"stream"`
}

// generateEvent is one streamed line from the inference server.
type generateEvent struct {
	Type         string  `json:"type"` // "token" or "done"
	Tokens       int     `json:"tokens,omitempty"`
	Text         string  `json:"text,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Generate runs one captioning call. onToken is invoked with the running
// token count as stream events arrive; it may be nil. Cancellation is
// honored between stream events.
func (b *HTTPBackend) Generate(ctx context.Context, frames []Frame, params GenerationParams, onToken func(tokens int)) (GenerationResult, error) {
	encoded := make([]string, len(frames))
	for i, frame := range frames {
		encoded[i] = base64.StdEncoding.EncodeToString(frame.Data)
	}

	body, err := json.Marshal(generateRequest{
		Frames:      encoded,
		Prompt:      params.Prompt,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stream:      true,
	})
	if err != nil {
		return GenerationResult{}, err
	}

	resp, err := b.post(ctx, "/v1/caption", body)
	if err != nil {
		return GenerationResult{}, &PipelineError{
			Stage:   StageGenerating,
			Message: fmt.Sprintf("inference request failed on %s", b.cfg.Device),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GenerationResult{}, &PipelineError{
			Stage:   StageGenerating,
			Message: fmt.Sprintf("inference server returned %s", resp.Status),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var result GenerationResult
	done := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return GenerationResult{}, ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event generateEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return GenerationResult{}, &PipelineError{
				Stage:   StageGenerating,
				Message: "malformed stream event from inference server",
				Err:     err,
			}
		}

		switch event.Type {
		case "token":
			if onToken != nil {
				onToken(event.Tokens)
			}
		case "done":
			result = GenerationResult{
				Text:         event.Text,
				OutputTokens: event.OutputTokens,
				TokensPerSec: event.TokensPerSec,
			}
			done = true
		case "error":
			return GenerationResult{}, &PipelineError{
				Stage:   StageGenerating,
				Message: event.Error,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return GenerationResult{}, &PipelineError{
			Stage:   StageGenerating,
			Message: "inference stream interrupted",
			Err:     err,
		}
	}
	if !done {
		return GenerationResult{}, &PipelineError{
			Stage:   StageGenerating,
			Message: "inference stream ended without a result",
		}
	}
	return result, nil
}

// Shutdown unloads the model from the device.
func (b *HTTPBackend) Shutdown(ctx context.Context) error {
	resp, err := b.post(ctx, "/v1/model/unload", []byte(`{}`))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.client.Do(req)
}
