package product

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
)

// StoreLookup adapts a local Store to the scanner's product lookup boundary.
type StoreLookup struct {
	Store *Store
}

func (l StoreLookup) Lookup(_ context.Context, code string) (schemas.ProductRecord, error) {
	return l.Store.Get(code)
}

// Client implements the same lookup boundary against a remote product API,
// for deployments where the catalog runs in another process.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("product_client"),
	}
}

// Lookup fetches a record by barcode. A 404 maps to ErrNotFound so callers
// can treat remote and local catalogs identically.
func (c *Client) Lookup(ctx context.Context, code string) (schemas.ProductRecord, error) {
	endpoint := c.baseURL + "/products/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return schemas.ProductRecord{}, fmt.Errorf("build product request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return schemas.ProductRecord{}, fmt.Errorf("product lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return schemas.ProductRecord{}, ErrNotFound
	}

	var envelope struct {
		Success bool                  `json:"success"`
		Data    schemas.ProductRecord `json:"data"`
		Error   string                `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return schemas.ProductRecord{}, fmt.Errorf("decode product response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		return schemas.ProductRecord{}, fmt.Errorf("product lookup failed: %s (status %d)", envelope.Error, resp.StatusCode)
	}
	return envelope.Data, nil
}
