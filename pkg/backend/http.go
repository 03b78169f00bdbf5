package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/streaming"
)

// HTTPBackend talks to a parley-shaped REST backend (the ollama-fronting
// FastAPI service). POST /chat may answer either with a single JSON object
// or with a raw text stream terminated by connection close; both are folded
// through the same incremental-update contract.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

type HTTPOption func(*HTTPBackend)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.httpClient = client
	}
}

func NewHTTPBackend(baseURL string, options ...HTTPOption) *HTTPBackend {
	ret := &HTTPBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// chatResponse is the single-JSON reply shape.
type chatResponse struct {
	Response  string                `json:"response"`
	Reasoning string                `json:"reasoning,omitempty"`
	Sources   []conversation.Source `json:"sources,omitempty"`
	Model     string                `json:"model,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (b *HTTPBackend) Complete(ctx context.Context, req *ChatRequest, onUpdate streaming.UpdateFunc) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "chat request failed")
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newRequestFailedError(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return b.completeJSON(resp.Body, onUpdate)
	}
	return b.completeStream(ctx, resp.Body, onUpdate)
}

func (b *HTTPBackend) completeJSON(body io.Reader, onUpdate streaming.UpdateFunc) (*Completion, error) {
	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode chat response")
	}

	// a single update keeps JSON replies on the same contract as streams
	if err := onUpdate(parsed.Response, parsed.Response); err != nil {
		return nil, err
	}

	return &Completion{
		Text:      parsed.Response,
		Reasoning: parsed.Reasoning,
		Sources:   parsed.Sources,
		Model:     parsed.Model,
	}, nil
}

func (b *HTTPBackend) completeStream(ctx context.Context, body io.Reader, onUpdate streaming.UpdateFunc) (*Completion, error) {
	final, err := streaming.ReadStream(ctx, body, onUpdate)
	if err != nil {
		return nil, err
	}
	return &Completion{Text: final}, nil
}

// newRequestFailedError extracts the `detail` field from an error body, or
// falls back to a generic message when the body is not parseable.
func newRequestFailedError(resp *http.Response) error {
	ret := &RequestFailedError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		log.Debug().Err(err).Int("status", resp.StatusCode).Msg("could not read error body")
		return ret
	}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		ret.Detail = parsed.Detail
	}
	return ret
}
