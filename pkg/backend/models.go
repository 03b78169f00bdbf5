package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultModel is the fallback when the model list endpoint is unreachable,
// so configuration never ends up unselectable.
const DefaultModel = "llama3"

// ModelCatalog fetches the available model ids from GET /models once and
// caches them.
type ModelCatalog struct {
	baseURL      string
	httpClient   *http.Client
	defaultModel string

	mu     sync.Mutex
	cached []string
}

type ModelCatalogOption func(*ModelCatalog)

func WithModelHTTPClient(client *http.Client) ModelCatalogOption {
	return func(c *ModelCatalog) {
		c.httpClient = client
	}
}

func WithDefaultModel(model string) ModelCatalogOption {
	return func(c *ModelCatalog) {
		c.defaultModel = model
	}
}

func NewModelCatalog(baseURL string, options ...ModelCatalogOption) *ModelCatalog {
	ret := &ModelCatalog{
		baseURL:      baseURL,
		httpClient:   &http.Client{},
		defaultModel: DefaultModel,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Models returns the cached model list, fetching it on first use. On failure
// it falls back to the single default model id.
func (c *ModelCatalog) Models(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return c.cached
	}

	models, err := c.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Str("fallback", c.defaultModel).Msg("could not fetch model list")
		return []string{c.defaultModel}
	}

	c.cached = models
	return c.cached
}

func (c *ModelCatalog) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "model list request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("model list request failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "could not decode model list")
	}
	if len(parsed.Models) == 0 {
		return nil, errors.New("model list is empty")
	}

	return parsed.Models, nil
}
