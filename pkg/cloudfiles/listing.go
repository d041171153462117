package cloudfiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListOptions filters a listing. With a Delimiter, names sharing a prefix up
// to the delimiter collapse into one pseudo-directory entry.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Marker    string
	Limit     int
}

func (o ListOptions) query() url.Values {
	q := url.Values{"format": {"json"}}
	if o.Prefix != "" {
		q.Set("prefix", o.Prefix)
	}
	if o.Delimiter != "" {
		q.Set("delimiter", o.Delimiter)
	}
	if o.Marker != "" {
		q.Set("marker", o.Marker)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	return q
}

// ObjectInfo is one listing entry. Pseudo-directories have only Subdir set.
type ObjectInfo struct {
	Name         string
	Hash         string
	Bytes        int64
	ContentType  string
	LastModified time.Time
	Subdir       string
}

// Key returns Name, or Subdir for pseudo-directories.
func (i ObjectInfo) Key() string {
	if i.Subdir != "" {
		return i.Subdir
	}
	return i.Name
}

type listingEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Bytes        int64  `json:"bytes"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
	Subdir       string `json:"subdir"`
}

var listingTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
}

func parseListingTime(s string) time.Time {
	for _, layout := range listingTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ListObjects returns one page of listing entries.
func (c *Container) ListObjects(ctx context.Context, opts ListOptions) ([]ObjectInfo, error) {
	resp, err := c.client.do(ctx, call{method: http.MethodGet, service: storageService, path: c.path(), query: opts.query()})
	if err != nil {
		return nil, c.wrap("list", err)
	}
	if err := resp.check(ErrNoSuchContainer); err != nil {
		return nil, c.wrap("list", err)
	}
	defer resp.close()

	out := []ObjectInfo{}
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	var entries []listingEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, c.wrap("list", fmt.Errorf("failed to decode listing: %w", err))
	}
	for _, e := range entries {
		out = append(out, ObjectInfo{
			Name:         e.Name,
			Hash:         e.Hash,
			Bytes:        e.Bytes,
			ContentType:  e.ContentType,
			LastModified: parseListingTime(e.LastModified),
			Subdir:       e.Subdir,
		})
	}
	return out, nil
}

// List returns one page of names; pseudo-directories appear with their
// trailing delimiter.
func (c *Container) List(ctx context.Context, opts ListOptions) ([]string, error) {
	infos, err := c.ListObjects(ctx, opts)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Key()
	}
	return names, nil
}

// ObjectIterator pages through a listing with markers.
type ObjectIterator struct {
	container *Container
	ctx       context.Context
	opts      ListOptions
	page      []ObjectInfo
	current   ObjectInfo
	err       error
	done      bool
}

// ListAllObjects iterates every entry matching opts, fetching batchSize
// entries per request. opts.Limit is ignored.
func (c *Container) ListAllObjects(ctx context.Context, opts ListOptions, batchSize int) *ObjectIterator {
	if batchSize <= 0 {
		batchSize = 10000
	}
	opts.Limit = batchSize
	return &ObjectIterator{container: c, ctx: ctx, opts: opts}
}

// Next advances the iterator, fetching the next page when needed.
func (it *ObjectIterator) Next() bool {
	if len(it.page) == 0 {
		if it.done {
			return false
		}
		page, err := it.container.ListObjects(it.ctx, it.opts)
		if err != nil {
			it.err, it.done = err, true
			return false
		}
		if len(page) < it.opts.Limit {
			it.done = true
		}
		if len(page) == 0 {
			return false
		}
		it.opts.Marker = page[len(page)-1].Key()
		it.page = page
	}
	it.current, it.page = it.page[0], it.page[1:]
	return true
}

// Object returns the current entry
func (it *ObjectIterator) Object() ObjectInfo {
	return it.current
}

// Err returns the error that stopped iteration
func (it *ObjectIterator) Err() error {
	return it.err
}
