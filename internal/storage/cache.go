package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

// Record is one entry written into a cache area by a Store or Record
// consumer.
type Record struct {
	Key     string `badgerhold:"key"`
	Table   string `badgerhold:"index"`
	Payload string
	Written time.Time
}

// CacheArea is a KV-backed storage area. A `mem://` URL opens an
// in-memory badger instance; anything else is taken as an on-disk
// path.
type CacheArea struct {
	URL   string
	store *badgerhold.Store
}

// OpenCache opens the badger store behind a cache area URL.
func OpenCache(url string) (*CacheArea, error) {
	opts := badgerhold.DefaultOptions
	if strings.HasPrefix(url, "mem://") {
		opts.InMemory = true
	} else {
		path := strings.TrimPrefix(url, "file://")
		opts.Dir = path
		opts.ValueDir = path
	}
	opts.Logger = nil // quiet the default badger logger

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", url, err)
	}
	return &CacheArea{URL: url, store: store}, nil
}

// Put inserts one record keyed by table and sequence.
func (c *CacheArea) Put(table string, seq uint64, payload string) error {
	rec := Record{
		Key:     fmt.Sprintf("%s/%d", table, seq),
		Table:   table,
		Payload: payload,
		Written: time.Now(),
	}
	if err := c.store.Upsert(rec.Key, &rec); err != nil {
		return fmt.Errorf("cache put %s: %w", rec.Key, err)
	}
	return nil
}

// Count returns the number of records in one table.
func (c *CacheArea) Count(table string) (int, error) {
	n, err := c.store.Count(&Record{}, badgerhold.Where("Table").Eq(table))
	if err != nil {
		return 0, fmt.Errorf("cache count %s: %w", table, err)
	}
	return int(n), nil
}

// Fetch returns every record of a table in insertion order.
func (c *CacheArea) Fetch(table string) ([]Record, error) {
	var out []Record
	err := c.store.Find(&out, badgerhold.Where("Table").Eq(table).SortBy("Written"))
	if err != nil {
		return nil, fmt.Errorf("cache fetch %s: %w", table, err)
	}
	return out, nil
}

func (c *CacheArea) Close() error {
	return c.store.Close()
}
