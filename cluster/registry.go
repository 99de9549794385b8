package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/metrics"
	"github.com/gorilla/websocket"
	iutil "github.com/go-elytra/elytra/internal/util"
)

// Registry tracks live worker and observer connections, partitioned by
// the role declared at handshake time, and runs the liveness protocol
// that evicts silent peers.
type Registry struct {
	mu             sync.Mutex
	workers        map[string]*Conn
	observers      map[string]*Conn
	livenessPeriod time.Duration
	metrics        *metrics.Metrics
	log            *slog.Logger
}

// NewRegistry creates an empty Registry sweeping at the given period
func NewRegistry(livenessPeriod time.Duration, m *metrics.Metrics) *Registry {
	return &Registry{
		workers:        make(map[string]*Conn),
		observers:      make(map[string]*Conn),
		livenessPeriod: livenessPeriod,
		metrics:        m,
		log:            logging.Component("registry"),
	}
}

// Accept wraps a freshly upgraded socket in a Conn and installs it in the
// set matching its role
func (r *Registry) Accept(ws *websocket.Conn, role Role, isMobile bool) (*Conn, error) {
	id, err := iutil.ShortID(12)
	if err != nil {
		return nil, err
	}
	conn := newConn(ws, id, role, isMobile)
	r.mu.Lock()
	if role == RoleObserver {
		r.observers[id] = conn
	} else {
		r.workers[id] = conn
	}
	r.mu.Unlock()
	r.log.Info("connection accepted", "id", id, "role", role, "remote", ws.RemoteAddr().String())
	r.updateGauges()
	return conn, nil
}

// Drop removes a connection from the registry and closes it
func (r *Registry) Drop(conn *Conn) {
	r.mu.Lock()
	if conn.Role() == RoleObserver {
		delete(r.observers, conn.ID())
	} else {
		delete(r.workers, conn.ID())
	}
	r.mu.Unlock()
	conn.Close()
	r.log.Info("connection dropped", "id", conn.ID(), "role", conn.Role())
	r.updateGauges()
}

// Workers returns a snapshot of the live worker set. The slice is a copy
// taken under lock; callers iterate it freely.
func (r *Registry) Workers() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Conn, 0, len(r.workers))
	for _, c := range r.workers {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Observers returns a snapshot of the live observer set
func (r *Registry) Observers() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Conn, 0, len(r.observers))
	for _, c := range r.observers {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// Broadcast enqueues a frame on every connection in the snapshot.
// Delivery is best-effort: a peer with a full buffer misses the frame.
func (r *Registry) Broadcast(conns []*Conn, frame []byte) {
	for _, c := range conns {
		if !c.TrySend(frame) {
			r.log.Debug("broadcast frame dropped", "id", c.ID())
		}
	}
}

// RunLiveness sweeps every livenessPeriod: connections that never ponged
// back since the previous tick are torn down, the rest are marked
// dead-provisional and pinged again. This is the only mechanism for
// detecting silent peer loss. Blocking; run in a goroutine.
func (r *Registry) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(r.livenessPeriod)
	defer ticker.Stop()
	r.log.Info("liveness sweep started", "period", r.livenessPeriod)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	for _, conn := range append(r.Workers(), r.Observers()...) {
		if !conn.Alive() {
			r.log.Warn("connection missed liveness tick", "id", conn.ID(), "role", conn.Role())
			if r.metrics != nil {
				r.metrics.LivenessEvictions.Inc()
			}
			r.Drop(conn)
			continue
		}
		conn.markProvisional()
		if err := conn.Ping(); err != nil {
			r.log.Warn("ping failed", "id", conn.ID(), "error", err)
			r.Drop(conn)
		}
	}
}

// CloseAll tears down every connection, for shutdown
func (r *Registry) CloseAll() {
	for _, conn := range append(r.Workers(), r.Observers()...) {
		r.Drop(conn)
	}
}

func (r *Registry) updateGauges() {
	if r.metrics == nil {
		return
	}
	r.mu.Lock()
	workers, observers := len(r.workers), len(r.observers)
	r.mu.Unlock()
	r.metrics.ConnectedWorkers.Set(float64(workers))
	r.metrics.ConnectedObservers.Set(float64(observers))
}
