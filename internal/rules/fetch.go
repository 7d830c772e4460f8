package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/splashkes/eventlinter/internal/cache"
	"github.com/splashkes/eventlinter/pkg/models"
)

// ErrCatalogueUnavailable is returned when the catalogue document cannot
// be read from its source.
var ErrCatalogueUnavailable = errors.New("rule catalogue unavailable")

// maxCatalogueSize caps the catalogue document read from the source.
const maxCatalogueSize = 4 << 20

// DocumentCache is the subset of cache.Cache used by Catalogue.
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Catalogue loads the static rule definitions from an http(s) URL or a
// local file path. Fetched documents are cached for TTL when a cache is set.
type Catalogue struct {
	Source     string
	HTTPClient *http.Client
	Cache      DocumentCache
	TTL        time.Duration
	Logger     *slog.Logger
}

// Load returns the parsed catalogue. An empty Source yields no rules.
func (c *Catalogue) Load(ctx context.Context) ([]models.Rule, error) {
	if c.Source == "" {
		return []models.Rule{}, nil
	}

	key := cache.CatalogueKey(c.Source)
	if c.Cache != nil {
		doc, ok, err := c.Cache.Get(ctx, key)
		if err != nil {
			c.logger().Warn("catalogue cache read failed", "error", err)
		} else if ok {
			return ParseCatalogue(doc), nil
		}
	}

	doc, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	if c.Cache != nil && c.TTL > 0 {
		if err := c.Cache.Set(ctx, key, doc, c.TTL); err != nil {
			c.logger().Warn("catalogue cache write failed", "error", err)
		}
	}
	return ParseCatalogue(doc), nil
}

func (c *Catalogue) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(c.Source, "http://") && !strings.HasPrefix(c.Source, "https://") {
		doc, err := os.ReadFile(c.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogueUnavailable, err)
		}
		return doc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogueUnavailable, err)
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogueUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrCatalogueUnavailable, resp.StatusCode)
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogueSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogueUnavailable, err)
	}
	return doc, nil
}

func (c *Catalogue) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
