package cluster

import (
	"encoding/json"
	"log/slog"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/metrics"
	"github.com/tidwall/gjson"
)

// Router dispatches inbound frames by message type: results and errors go
// to the Coordinator, progress telemetry is rebroadcast to observers.
// Malformed or unknown frames are dropped with a log entry and never
// terminate the connection.
type Router struct {
	registry    *Registry
	coordinator *Coordinator
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// NewRouter wires a Router to the registry and coordinator
func NewRouter(registry *Registry, coordinator *Coordinator, m *metrics.Metrics) *Router {
	return &Router{
		registry:    registry,
		coordinator: coordinator,
		metrics:     m,
		log:         logging.Component("router"),
	}
}

// Serve pumps inbound frames for one connection until it disconnects,
// then removes it from the registry. Blocking; run per connection.
func (rt *Router) Serve(conn *Conn) {
	defer rt.registry.Drop(conn)
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			rt.log.Debug("read pump finished", "id", conn.ID(), "error", err)
			return
		}
		rt.route(conn, frame)
	}
}

func (rt *Router) route(conn *Conn, frame []byte) {
	if !gjson.ValidBytes(frame) {
		rt.drop(conn, "malformed frame")
		return
	}
	msgType := gjson.GetBytes(frame, "type").String()
	switch msgType {
	case elytra.MsgWorkerProgress:
		// never inspected by the scheduler, forwarded verbatim
		rt.registry.Broadcast(rt.registry.Observers(), frame)
	case elytra.MsgChunkResult:
		var msg elytra.ResultMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			rt.drop(conn, "unparseable chunk_result")
			return
		}
		rt.coordinator.IngestResult(msg.JobID, msg.ChunkID, msg.Result)
	case elytra.MsgChunkError:
		var msg elytra.ErrorMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			rt.drop(conn, "unparseable chunk_error")
			return
		}
		rt.coordinator.IngestError(msg.JobID, msg.ChunkID, msg.Error)
	default:
		rt.drop(conn, "unknown message type "+msgType)
		return
	}
	if rt.metrics != nil {
		rt.metrics.FramesRouted.WithLabelValues(msgType).Inc()
	}
}

func (rt *Router) drop(conn *Conn, reason string) {
	rt.log.Warn("dropping frame", "id", conn.ID(), "reason", reason)
	if rt.metrics != nil {
		rt.metrics.FramesDropped.Inc()
	}
}
