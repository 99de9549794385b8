package cluster

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-elytra/elytra/catalog"
	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/metrics"
)

// Reaper periodically evicts datasets older than a configured maximum
// age, using the catalog's delete path.
type Reaper struct {
	catalog *catalog.Catalog
	maxAge  time.Duration
	period  time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewReaper creates a Reaper over the catalog
func NewReaper(cat *catalog.Catalog, maxAge, period time.Duration, m *metrics.Metrics) *Reaper {
	return &Reaper{
		catalog: cat,
		maxAge:  maxAge,
		period:  period,
		metrics: m,
		log:     logging.Component("reaper"),
	}
}

// Run sweeps until ctx ends. Blocking; run in a goroutine.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.period)
	defer ticker.Stop()
	rp.log.Info("reaper started", "period", rp.period, "max_age", rp.maxAge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.Sweep()
		}
	}
}

// Sweep deletes every dataset past the maximum age and logs the
// reclaimed bytes
func (rp *Reaper) Sweep() {
	cutoff := time.Now().Add(-rp.maxAge).UnixMilli()
	var reclaimed int64
	var evicted int
	for _, summary := range rp.catalog.List() {
		if summary.Timestamp >= cutoff {
			continue
		}
		bytes, found := rp.catalog.Delete(summary.ID)
		if found {
			reclaimed += bytes
			evicted++
		}
	}
	if evicted > 0 {
		rp.log.Info("evicted expired datasets", "datasets", evicted, "reclaimed_bytes", reclaimed)
		if rp.metrics != nil {
			rp.metrics.ReapedBytes.Add(float64(reclaimed))
			rp.metrics.Datasets.Set(float64(rp.catalog.Len()))
		}
	}
}
