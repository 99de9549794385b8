// Package catalog implements the dataset catalog: an in-memory map of
// dataset id to metadata with a durable mirror on local disk.
package catalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/errors"
	"github.com/go-elytra/elytra/logging"
	iutil "github.com/go-elytra/elytra/internal/util"
)

const (
	metaFileName = "meta.json"
	idLength     = 12
)

// Registration carries the caller-supplied fields of a new dataset.
// PublicURL and Format are optional; Format defaults to parquet.
type Registration struct {
	Name          string
	StorageKey    string
	StorageBucket string
	PublicURL     string
	Format        string
	RowGroups     []elytra.RowGroup
}

// Catalog maps dataset ids to metadata, mirroring every entry under
// {root}/{datasetId}/meta.json. Entries are created once and never
// mutated, so readers may share the returned metadata freely.
type Catalog struct {
	root     string
	mu       sync.RWMutex
	datasets map[string]*elytra.DatasetMeta
	log      *slog.Logger
}

// Open prepares a Catalog rooted at dir, creating it if necessary
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog root %s: %w", dir, err)
	}
	return &Catalog{
		root:     dir,
		datasets: make(map[string]*elytra.DatasetMeta),
		log:      logging.Component("catalog"),
	}, nil
}

// Register assigns a fresh dataset id, persists the metadata to disk and
// installs it in memory. The returned metadata is the canonical record.
func (c *Catalog) Register(reg Registration) (*elytra.DatasetMeta, error) {
	if err := validateRowGroups(reg.RowGroups); err != nil {
		return nil, err
	}
	format := reg.Format
	if format == "" {
		format = "parquet"
	}
	id, dir, err := c.claimID()
	if err != nil {
		return nil, errors.CatalogWriteError{Cause: err}
	}
	meta := &elytra.DatasetMeta{
		ID:            id,
		Name:          reg.Name,
		Timestamp:     time.Now().UnixMilli(),
		Format:        format,
		StorageKey:    reg.StorageKey,
		StorageBucket: reg.StorageBucket,
		PublicURL:     reg.PublicURL,
		RowGroups:     reg.RowGroups,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errors.CatalogWriteError{Cause: err}
	}
	if err := iutil.WriteFileAtomic(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, errors.CatalogWriteError{Cause: err}
	}
	c.mu.Lock()
	c.datasets[id] = meta
	c.mu.Unlock()
	c.log.Info("registered dataset", "id", id, "name", meta.Name, "row_groups", len(meta.RowGroups))
	return meta, nil
}

// claimID picks an id unique in memory and on disk, reserving its
// directory. Collisions on 12 hex chars are re-rolled.
func (c *Catalog) claimID() (string, string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id, err := iutil.ShortID(idLength)
		if err != nil {
			return "", "", err
		}
		c.mu.RLock()
		_, taken := c.datasets[id]
		c.mu.RUnlock()
		if taken {
			continue
		}
		dir := filepath.Join(c.root, id)
		if err := os.Mkdir(dir, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", "", err
		}
		return id, dir, nil
	}
	return "", "", fmt.Errorf("could not claim a unique dataset id")
}

// Get returns the metadata for a dataset id
func (c *Catalog) Get(id string) (*elytra.DatasetMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.datasets[id]
	return meta, ok
}

// List returns a summary of every registered dataset, oldest first
func (c *Catalog) List() []elytra.DatasetSummary {
	c.mu.RLock()
	summaries := make([]elytra.DatasetSummary, 0, len(c.datasets))
	for _, meta := range c.datasets {
		summaries = append(summaries, meta.Summary())
	}
	c.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Timestamp == summaries[j].Timestamp {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].Timestamp < summaries[j].Timestamp
	})
	return summaries
}

// Len returns the number of registered datasets
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.datasets)
}

// Delete removes a dataset from memory and best-effort removes its
// directory. It reports the bytes reclaimed on disk and whether the
// dataset existed. Unlink failures are logged, never propagated: callers
// only care that the entry is gone.
func (c *Catalog) Delete(id string) (int64, bool) {
	c.mu.Lock()
	_, found := c.datasets[id]
	delete(c.datasets, id)
	c.mu.Unlock()
	if !found {
		return 0, false
	}
	dir := filepath.Join(c.root, id)
	reclaimed := dirSize(dir)
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("could not remove dataset directory", "id", id, "error", err)
	}
	c.log.Info("deleted dataset", "id", id, "reclaimed_bytes", reclaimed)
	return reclaimed, true
}

// RestoreFromDisk scans {root}/*/meta.json and loads every parseable
// entry. Unparseable entries are skipped with a warning and never
// partially loaded.
func (c *Catalog) RestoreFromDisk() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("scan catalog root %s: %w", c.root, err)
	}
	restored := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		path := filepath.Join(c.root, id, metaFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("skipping dataset with unreadable metadata", "id", id, "error", err)
			continue
		}
		var meta elytra.DatasetMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			c.log.Warn("skipping dataset with unparseable metadata", "id", id, "error", err)
			continue
		}
		if meta.ID != id {
			c.log.Warn("skipping dataset whose metadata does not match its directory", "dir", id, "meta_id", meta.ID)
			continue
		}
		if err := validateRowGroups(meta.RowGroups); err != nil {
			c.log.Warn("skipping dataset with invalid row groups", "id", id, "error", err)
			continue
		}
		c.mu.Lock()
		c.datasets[id] = &meta
		c.mu.Unlock()
		restored++
	}
	c.log.Info("restored catalog from disk", "datasets", restored)
	return nil
}

func validateRowGroups(rowGroups []elytra.RowGroup) error {
	if len(rowGroups) == 0 {
		return fmt.Errorf("dataset must contain at least one row group")
	}
	for i, rg := range rowGroups {
		if rg.ID != i {
			return fmt.Errorf("row groups must be contiguous from 0: index %d has id %d", i, rg.ID)
		}
		if rg.RowCount <= 0 {
			return fmt.Errorf("row group %d has non-positive row count %d", rg.ID, rg.RowCount)
		}
	}
	return nil
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
