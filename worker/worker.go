// Package worker implements the Elytra worker runtime: it holds a
// long-lived channel connection to the control plane, executes parquet
// row-group tasks against a pipeline of serialized operations, and
// reports partial results and progress telemetry.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/logging"
	uuid "github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// Options configure a worker
type Options struct {
	CoordinatorURL string        // channel endpoint, e.g. ws://localhost:8080/ws
	Slots          int64         // concurrent chunk executions
	IsMobile       bool          // advisory flag forwarded to observers
	HTTPClient     *http.Client  // used to fetch artifacts
	DialTimeout    time.Duration // channel dial timeout
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.Slots == 0 {
		opts.Slots = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
}

// Worker executes chunks dispatched over the message channel
type Worker struct {
	id      string
	opts    *Options
	ws      *websocket.Conn
	writeMu sync.Mutex
	slots   chan int
	sem     *semaphore.Weighted
	log     *slog.Logger
}

// New creates a Worker with a fresh identity
func New(opts *Options) (*Worker, error) {
	ensureDefaultOptionsValues(opts)
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate worker id: %w", err)
	}
	slots := make(chan int, opts.Slots)
	for i := 0; i < int(opts.Slots); i++ {
		slots <- i
	}
	return &Worker{
		id:    id.String(),
		opts:  opts,
		slots: slots,
		sem:   semaphore.NewWeighted(opts.Slots),
		log:   logging.Component("worker").With("worker_id", id.String()),
	}, nil
}

// ID returns this worker's identity
func (w *Worker) ID() string { return w.id }

// Run dials the control plane and serves chunks until ctx ends or the
// channel closes. Blocking.
func (w *Worker) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s?role=worker&isMobile=%t", w.opts.CoordinatorURL, w.opts.IsMobile)
	dialer := websocket.Dialer{HandshakeTimeout: w.opts.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial coordinator at %s: %w", w.opts.CoordinatorURL, err)
	}
	w.ws = ws
	defer ws.Close()
	w.log.Info("connected", "url", w.opts.CoordinatorURL)

	// unblock the read loop when the context ends
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("channel closed: %w", err)
		}
		var task elytra.TaskMessage
		if err := json.Unmarshal(frame, &task); err != nil {
			w.log.Warn("dropping unparseable frame", "error", err)
			continue
		}
		if task.Type != elytra.MsgExecuteParquetChunk && task.Type != elytra.MsgExecuteChunk {
			w.log.Warn("dropping frame of unexpected type", "type", task.Type)
			continue
		}
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		wg.Add(1)
		go func(task elytra.TaskMessage) {
			defer wg.Done()
			defer w.sem.Release(1)
			threadID := <-w.slots
			defer func() { w.slots <- threadID }()
			w.runChunk(ctx, task, threadID)
		}(task)
	}
}

func (w *Worker) runChunk(ctx context.Context, task elytra.TaskMessage, threadID int) {
	w.progress(task, threadID, "started", 0)
	result, rows, err := w.executeChunk(ctx, task)
	if err != nil {
		w.log.Warn("chunk failed", "job_id", task.JobID, "chunk_id", task.ChunkID, "error", err)
		w.progress(task, threadID, "failed", rows)
		w.sendJSON(elytra.ErrorMessage{
			Type:    elytra.MsgChunkError,
			JobID:   task.JobID,
			ChunkID: task.ChunkID,
			Error:   err.Error(),
		})
		return
	}
	w.progress(task, threadID, "completed", rows)
	raw, err := json.Marshal(result)
	if err != nil {
		w.sendJSON(elytra.ErrorMessage{
			Type:    elytra.MsgChunkError,
			JobID:   task.JobID,
			ChunkID: task.ChunkID,
			Error:   fmt.Sprintf("result is not serializable: %v", err),
		})
		return
	}
	w.sendJSON(elytra.ResultMessage{
		Type:    elytra.MsgChunkResult,
		JobID:   task.JobID,
		ChunkID: task.ChunkID,
		Result:  raw,
	})
}

func (w *Worker) progress(task elytra.TaskMessage, threadID int, status string, rows int64) {
	w.sendJSON(elytra.ProgressMessage{
		Type:     elytra.MsgWorkerProgress,
		JobID:    task.JobID,
		ChunkID:  task.ChunkID,
		ThreadID: threadID,
		Status:   status,
		Rows:     rows,
		IsMobile: w.opts.IsMobile,
	})
}

// sendJSON serializes all frame writes through one mutex; chunk
// goroutines share the socket
func (w *Worker) sendJSON(v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		w.log.Warn("could not marshal frame", "error", err)
		return
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := w.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		w.log.Warn("could not send frame", "error", err)
	}
}
