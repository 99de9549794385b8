package elytra

import "encoding/json"

// Frame types carried in the "type" field of every channel message
const (
	// MsgExecuteParquetChunk assigns one row group of a parquet artifact to a worker
	MsgExecuteParquetChunk = "execute_parquet_chunk"
	// MsgExecuteChunk is the legacy alias for MsgExecuteParquetChunk
	MsgExecuteChunk = "execute_chunk"
	// MsgChunkResult carries a worker's partial result for one task
	MsgChunkResult = "chunk_result"
	// MsgChunkError reports a worker's per-task failure
	MsgChunkError = "chunk_error"
	// MsgWorkerProgress is free-form telemetry, rebroadcast verbatim to observers
	MsgWorkerProgress = "worker_progress"
)

// TaskMessage is a task assignment sent to a worker. It is ephemeral - it
// exists only as an outbound frame and is never stored by the control plane.
type TaskMessage struct {
	Type       string      `json:"type"`
	JobID      int64       `json:"jobId"`
	ChunkID    int         `json:"chunkId"`
	RowGroupID int         `json:"rowGroupId"`
	PublicURL  string      `json:"publicUrl"`
	Ops        []Operation `json:"ops"`
}

// ResultMessage is a worker's partial result for one task. Result is kept
// raw: the control plane only interprets it during the merge.
type ResultMessage struct {
	Type    string          `json:"type"`
	JobID   int64           `json:"jobId"`
	ChunkID int             `json:"chunkId"`
	Result  json.RawMessage `json:"result"`
}

// ErrorMessage reports a worker-side failure for one task
type ErrorMessage struct {
	Type    string `json:"type"`
	JobID   int64  `json:"jobId"`
	ChunkID int    `json:"chunkId"`
	Error   string `json:"error"`
}

// ProgressMessage is worker telemetry. The control plane forwards the raw
// frame without inspecting it; this shape is what the bundled worker
// runtime emits.
type ProgressMessage struct {
	Type     string `json:"type"`
	JobID    int64  `json:"jobId"`
	ChunkID  int    `json:"chunkId"`
	ThreadID int    `json:"threadId"`
	Status   string `json:"status"`
	Rows     int64  `json:"rows,omitempty"`
	IsMobile bool   `json:"isMobile,omitempty"`
}
