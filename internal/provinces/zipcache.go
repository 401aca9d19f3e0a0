package provinces

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ZipFetcher loads the full ZIP→province mapping from its upstream source.
type ZipFetcher interface {
	FetchZipMap(ctx context.Context) (map[string]string, error)
}

// ZipCache is a process-wide read-mostly cache over a ZipFetcher. Entries
// expire together after the TTL; concurrent callers may double-fetch but
// never observe a partially written map.
type ZipCache struct {
	fetcher ZipFetcher
	ttl     time.Duration

	mu        sync.RWMutex
	data      map[string]string
	fetchedAt time.Time
}

// NewZipCache creates a cache with a 24h TTL over the given fetcher.
func NewZipCache(fetcher ZipFetcher) *ZipCache {
	return &ZipCache{fetcher: fetcher, ttl: 24 * time.Hour}
}

// Lookup resolves a 5-digit ZIP to a province code, refreshing the mapping
// when stale. Returns "" when the ZIP is unknown.
func (c *ZipCache) Lookup(ctx context.Context, zip string) (string, error) {
	c.mu.RLock()
	fresh := c.data != nil && time.Since(c.fetchedAt) < c.ttl
	code := c.data[zip]
	c.mu.RUnlock()
	if fresh {
		return code, nil
	}

	data, err := c.fetcher.FetchZipMap(ctx)
	if err != nil {
		// Serve stale data over nothing.
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.data != nil {
			return c.data[zip], nil
		}
		return "", fmt.Errorf("zip map fetch: %w", err)
	}

	c.mu.Lock()
	c.data = data
	c.fetchedAt = time.Now()
	code = data[zip]
	c.mu.Unlock()
	return code, nil
}

// SheetFetcher reads the ZIP→province mapping from a Google Sheet whose
// rows are (zip, province code) pairs.
type SheetFetcher struct {
	apiKey    string
	sheetID   string
	readRange string
}

// NewSheetFetcher configures a values.get reader for the mapping sheet.
func NewSheetFetcher(apiKey, sheetID, readRange string) *SheetFetcher {
	return &SheetFetcher{apiKey: apiKey, sheetID: sheetID, readRange: readRange}
}

// FetchZipMap downloads the sheet and builds the lookup map. Rows with a
// malformed ZIP or province are skipped.
func (f *SheetFetcher) FetchZipMap(ctx context.Context) (map[string]string, error) {
	svc, err := sheets.NewService(ctx, option.WithAPIKey(f.apiKey))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	resp, err := svc.Spreadsheets.Values.Get(f.sheetID, f.readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets values.get: %w", err)
	}

	out := make(map[string]string, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) < 2 {
			continue
		}
		zip, _ := row[0].(string)
		code, _ := row[1].(string)
		zip = strings.TrimSpace(zip)
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(zip) != 5 || !IsValidCode(code) {
			continue
		}
		out[zip] = code
	}
	return out, nil
}
