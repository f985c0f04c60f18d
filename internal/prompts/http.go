package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultFetchTimeout = 5 * time.Second
	cacheSize           = 64
)

// HTTPResolver fetches prompts from the hosted prompt-management service over
// its public REST API, caching each slot for a fixed TTL.
type HTTPResolver struct {
	baseURL   string
	publicKey string
	secretKey string
	client    *http.Client
	cache     *expirable.LRU[string, Prompt]
}

// NewHTTPResolver creates a resolver against the given base URL. ttl controls
// how long a fetched prompt is served from cache.
func NewHTTPResolver(baseURL, publicKey, secretKey string, ttl time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL:   baseURL,
		publicKey: publicKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: defaultFetchTimeout},
		cache:     expirable.NewLRU[string, Prompt](cacheSize, nil, ttl),
	}
}

// GetPrompt implements Resolver. Cached entries are returned until the TTL
// expires; a fetch failure is returned as an error for caller-side fallback.
func (r *HTTPResolver) GetPrompt(ctx context.Context, name string) (Prompt, error) {
	if p, ok := r.cache.Get(name); ok {
		return p, nil
	}

	p, err := r.fetch(ctx, name)
	if err != nil {
		return Prompt{}, err
	}

	r.cache.Add(name, p)
	slog.Debug("Prompt fetched", "name", name, "version", p.Version)
	return p, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, name string) (Prompt, error) {
	endpoint := fmt.Sprintf("%s/api/public/v2/prompts/%s", r.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Prompt{}, fmt.Errorf("build prompt request: %w", err)
	}
	req.SetBasicAuth(r.publicKey, r.secretKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return Prompt{}, fmt.Errorf("fetch prompt %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prompt{}, fmt.Errorf("fetch prompt %q: status %d: %s", name, resp.StatusCode, string(body))
	}

	var p Prompt
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Prompt{}, fmt.Errorf("decode prompt %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}
