package toolregistry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// dtsCache fetches and caches declaration-bundle documents by URL,
// guaranteeing at most one in-flight HTTP fetch per URL even under
// concurrent callers.
type dtsCache struct {
	group singleflight.Group

	mu     sync.RWMutex
	bodies map[string]string
}

func newDTSCache() *dtsCache {
	return &dtsCache{bodies: make(map[string]string)}
}

func (c *dtsCache) fetch(ctx context.Context, url string) (string, error) {
	c.mu.RLock()
	if body, ok := c.bodies[url]; ok {
		c.mu.RUnlock()
		return body, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(url, func() (any, error) {
		return c.fetchAndStore(ctx, url)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *dtsCache) fetchAndStore(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch dts %q: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch dts %q: status %d", url, resp.StatusCode)
	}

	body := string(raw)
	c.mu.Lock()
	c.bodies[url] = body
	c.mu.Unlock()
	return body, nil
}
