package elytra

// RowGroup describes one row group of a columnar artifact. Row groups are
// the unit of parallelism: each one becomes exactly one task per job.
type RowGroup struct {
	ID       int   `json:"id"`
	RowCount int64 `json:"rowCount"`
}

// DatasetMeta is the catalog record for a registered dataset. It is
// created once at registration and never mutated.
type DatasetMeta struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Timestamp     int64      `json:"timestamp"` // creation time, epoch milliseconds
	Format        string     `json:"format"`
	StorageKey    string     `json:"storageKey"`
	StorageBucket string     `json:"storageBucket"`
	PublicURL     string     `json:"publicUrl"`
	RowGroups     []RowGroup `json:"rowGroups"`
}

// TotalRows sums the row counts of every row group
func (m *DatasetMeta) TotalRows() int64 {
	var total int64
	for _, rg := range m.RowGroups {
		total += rg.RowCount
	}
	return total
}

// DatasetSummary is the listing shape returned by the datasets endpoint
type DatasetSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Timestamp     int64  `json:"timestamp"`
	RowGroupCount int    `json:"rowGroupCount"`
	Format        string `json:"format"`
}

// Summary converts full metadata to its listing shape
func (m *DatasetMeta) Summary() DatasetSummary {
	return DatasetSummary{
		ID:            m.ID,
		Name:          m.Name,
		Timestamp:     m.Timestamp,
		RowGroupCount: len(m.RowGroups),
		Format:        m.Format,
	}
}
