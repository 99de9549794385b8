package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/catalog"
	"github.com/go-elytra/elytra/errors"
	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/metrics"
	iutil "github.com/go-elytra/elytra/internal/util"
)

type jobOutcome struct {
	result interface{}
	err    error
}

// job tracks one in-flight submission. partials is a fixed-length slot
// array indexed by chunkId; each slot is written at most once.
type job struct {
	id        int64
	datasetID string
	ops       []elytra.Operation
	partials  []json.RawMessage
	received  []bool
	expected  int
	completed int
	resolver  chan jobOutcome
	started   time.Time
}

// Coordinator creates jobs, fans tasks out to workers, collects partial
// results and merges them into a single answer for the submitter.
type Coordinator struct {
	mu        sync.Mutex
	nextJobID int64
	jobs      map[int64]*job
	catalog   *catalog.Catalog
	registry  *Registry
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewCoordinator wires a Coordinator to the catalog and the registry
func NewCoordinator(cat *catalog.Catalog, registry *Registry, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		jobs:     make(map[int64]*job),
		catalog:  cat,
		registry: registry,
		metrics:  m,
		log:      logging.Component("coordinator"),
	}
}

// Submit creates a job for the dataset, dispatches one task per row group
// round-robin across the current worker snapshot, and blocks until the
// job resolves or ctx ends. An abandoned context leaves the job entry in
// place; it is removed when a terminal message arrives.
func (co *Coordinator) Submit(ctx context.Context, datasetID string, ops []elytra.Operation) (interface{}, error) {
	if err := elytra.ValidateOps(ops); err != nil {
		return nil, err
	}
	meta, ok := co.catalog.Get(datasetID)
	if !ok {
		return nil, errors.DatasetNotFoundError{ID: datasetID}
	}
	// the snapshot is frozen for dispatch: workers joining mid-job
	// receive nothing
	workers := co.registry.Workers()
	if len(workers) == 0 {
		return nil, errors.NoWorkersError{}
	}

	j := co.createJob(datasetID, ops, len(meta.RowGroups))
	log := logging.JobLogger(j.id, datasetID)
	log.Info("job created", "tasks", j.expected, "workers", len(workers))
	if co.metrics != nil {
		co.metrics.JobsSubmitted.Inc()
	}

	// one task per row group in catalog order, assigned chunkId % workers
	var wg sync.WaitGroup
	asyncErrors := iutil.CreateAsyncErrorChannel(len(meta.RowGroups))
	for chunkID, rg := range meta.RowGroups {
		task := elytra.TaskMessage{
			Type:       elytra.MsgExecuteParquetChunk,
			JobID:      j.id,
			ChunkID:    chunkID,
			RowGroupID: rg.ID,
			PublicURL:  meta.PublicURL,
			Ops:        ops,
		}
		wg.Add(1)
		go asyncSendTask(task, workers[chunkID%len(workers)], &wg, asyncErrors)
	}
	if err := iutil.WaitAndFetchError(&wg, asyncErrors); err != nil {
		// transport failure is a downstream error: first one terminates the job
		co.resolveErr(j.id, err)
	}
	if co.metrics != nil {
		co.metrics.TasksSent.Add(float64(j.expected))
	}

	select {
	case out := <-j.resolver:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (co *Coordinator) createJob(datasetID string, ops []elytra.Operation, tasks int) *job {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.nextJobID++
	j := &job{
		id:        co.nextJobID,
		datasetID: datasetID,
		ops:       ops,
		partials:  make([]json.RawMessage, tasks),
		received:  make([]bool, tasks),
		expected:  tasks,
		resolver:  make(chan jobOutcome, 1),
		started:   time.Now(),
	}
	co.jobs[j.id] = j
	return j
}

func asyncSendTask(task elytra.TaskMessage, worker *Conn, wg *sync.WaitGroup, asyncErrors chan<- error) {
	defer wg.Done()
	frame, err := json.Marshal(task)
	if err != nil {
		asyncErrors <- errors.TransportError{ChunkID: task.ChunkID, Cause: err}
		return
	}
	if err := worker.Send(frame); err != nil {
		asyncErrors <- errors.TransportError{ChunkID: task.ChunkID, Cause: err}
	}
}

// IngestResult records a worker's partial result. Messages for unknown
// jobs are dropped silently: they are late arrivals after resolution.
// When the last slot fills, the merge runs on the caller's goroutine and
// the job is removed.
func (co *Coordinator) IngestResult(jobID int64, chunkID int, result json.RawMessage) {
	co.mu.Lock()
	j, ok := co.jobs[jobID]
	if !ok {
		co.mu.Unlock()
		return
	}
	if chunkID < 0 || chunkID >= j.expected || j.received[chunkID] {
		co.mu.Unlock()
		co.log.Warn("discarding result for invalid or duplicate chunk", "job_id", jobID, "chunk_id", chunkID)
		return
	}
	j.partials[chunkID] = result
	j.received[chunkID] = true
	j.completed++
	done := j.completed == j.expected
	if done {
		delete(co.jobs, jobID)
	}
	co.mu.Unlock()

	if !done {
		return
	}
	result2, err := mergePartials(j.ops, j.partials)
	if err != nil {
		co.deliver(j, jobOutcome{err: errors.MergeError{JobID: jobID, Cause: err}}, "merge")
		return
	}
	co.deliver(j, jobOutcome{result: result2}, "")
}

// IngestError terminates a job on its first per-task failure. Remaining
// partials are discarded and later results hit the silent-drop path.
func (co *Coordinator) IngestError(jobID int64, chunkID int, message string) {
	co.mu.Lock()
	j, ok := co.jobs[jobID]
	if ok {
		delete(co.jobs, jobID)
	}
	co.mu.Unlock()
	if !ok {
		return
	}
	co.deliver(j, jobOutcome{err: errors.WorkerFailureError{JobID: jobID, ChunkID: chunkID, Message: message}}, "worker")
}

// resolveErr resolves a still-registered job with an error; a no-op if a
// terminal message already removed it
func (co *Coordinator) resolveErr(jobID int64, err error) {
	co.mu.Lock()
	j, ok := co.jobs[jobID]
	if ok {
		delete(co.jobs, jobID)
	}
	co.mu.Unlock()
	if !ok {
		return
	}
	co.deliver(j, jobOutcome{err: err}, "transport")
}

// deliver hands the outcome to the submitter. The resolver is buffered,
// so delivery never blocks on an abandoned submitter.
func (co *Coordinator) deliver(j *job, out jobOutcome, failReason string) {
	elapsed := time.Since(j.started)
	if out.err != nil {
		co.log.Warn("job failed", "job_id", j.id, "elapsed", elapsed, "error", out.err)
	} else {
		co.log.Info("job resolved", "job_id", j.id, "tasks", j.expected, "elapsed", elapsed)
	}
	if co.metrics != nil {
		co.metrics.JobDuration.Observe(elapsed.Seconds())
		if out.err != nil {
			co.metrics.JobsFailed.WithLabelValues(failReason).Inc()
		} else {
			co.metrics.JobsCompleted.Inc()
		}
	}
	j.resolver <- out
}

// InFlight returns the number of unresolved jobs
func (co *Coordinator) InFlight() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.jobs)
}
