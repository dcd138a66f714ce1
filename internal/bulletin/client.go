// Package bulletin downloads and parses the exchange's daily oil
// bulletin spreadsheets into domain trading results.
package bulletin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spimexlab/spimex-api/internal/domain"
)

// ErrNotPublished is returned when the exchange has no bulletin for the
// requested day. Weekends and exchange holidays have no bulletin, so
// callers treat this as a skip, not a failure.
var ErrNotPublished = errors.New("bulletin not published for date")

// bulletinPath is the exchange's URL layout for daily oil bulletins.
// The 162000 suffix is the fixed publication timestamp in the filename.
const bulletinPath = "/upload/reports/oil_xls/oil_xls_%s162000.xls"

// Client fetches bulletin spreadsheets over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a bulletin client for the given exchange base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// URL returns the bulletin spreadsheet URL for the given day.
func (c *Client) URL(day time.Time) string {
	return c.baseURL + fmt.Sprintf(bulletinPath, day.Format("20060102"))
}

// Download fetches the raw bulletin spreadsheet for the given day.
// Returns ErrNotPublished when the exchange responds 404.
func (c *Client) Download(ctx context.Context, day time.Time) ([]byte, error) {
	url := c.URL(day)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build bulletin request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download bulletin %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, day.Format("2006-01-02"))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download bulletin %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulletin body: %w", err)
	}
	return data, nil
}

// Results downloads and parses the bulletin for the given day.
func (c *Client) Results(ctx context.Context, day time.Time) ([]*domain.TradingResult, error) {
	data, err := c.Download(ctx, day)
	if err != nil {
		return nil, err
	}
	results, err := Parse(bytes.NewReader(data), day)
	if err != nil {
		return nil, fmt.Errorf("parse bulletin for %s: %w", day.Format("2006-01-02"), err)
	}
	return results, nil
}
