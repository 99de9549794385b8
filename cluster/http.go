package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/catalog"
	elerrors "github.com/go-elytra/elytra/errors"
	"github.com/gorilla/websocket"
)

type registerDatasetRequest struct {
	Name       string            `json:"name"`
	StorageKey string            `json:"storageKey"`
	Bucket     string            `json:"bucket"`
	PublicURL  string            `json:"publicUrl"`
	Format     string            `json:"format"`
	RowGroups  []elytra.RowGroup `json:"rowGroups"`
}

type registerDatasetResponse struct {
	DatasetID     string `json:"datasetId"`
	RowGroupCount int    `json:"rowGroupCount"`
}

type submitJobRequest struct {
	APIKey    string             `json:"apiKey"`
	DatasetID string             `json:"datasetId"`
	Ops       []elytra.Operation `json:"ops"`
}

// routes builds the HTTP surface. The surface is a thin adapter: it
// validates input shapes, calls the catalog or coordinator, and
// translates outcomes to status codes. It holds no state.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register-dataset", s.handleRegisterDataset)
	mux.HandleFunc("GET /api/datasets", s.handleListDatasets)
	mux.HandleFunc("DELETE /api/datasets/{id}", s.handleDeleteDataset)
	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /ws", s.handleChannel)
	return mux
}

func (s *Server) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	var req registerDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	meta, err := s.catalog.Register(catalog.Registration{
		Name:          req.Name,
		StorageKey:    req.StorageKey,
		StorageBucket: req.Bucket,
		PublicURL:     req.PublicURL,
		Format:        req.Format,
		RowGroups:     req.RowGroups,
	})
	if err != nil {
		var writeErr elerrors.CatalogWriteError
		if errors.As(err, &writeErr) {
			writeError(w, http.StatusInternalServerError, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.Datasets.Set(float64(s.catalog.Len()))
	}
	writeJSON(w, http.StatusOK, registerDatasetResponse{
		DatasetID:     meta.ID,
		RowGroupCount: len(meta.RowGroups),
	})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, found := s.catalog.Delete(id); !found {
		writeError(w, http.StatusNotFound, elerrors.DatasetNotFoundError{ID: id}.Error())
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.Datasets.Set(float64(s.catalog.Len()))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	// the token is opaque: presence is required, the value is not validated
	if len(req.APIKey) == 0 {
		writeError(w, http.StatusUnauthorized, elerrors.MissingAPIKeyError{}.Error())
		return
	}
	result, err := s.coordinator.Submit(r.Context(), req.DatasetID, req.Ops)
	if err != nil {
		writeError(w, statusForJobError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

var channelUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// auth is a pre-shared opaque token at the job surface; the channel
	// accepts any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != RoleObserver {
		role = RoleWorker
	}
	isMobile := r.URL.Query().Get("isMobile") == "true"
	ws, err := channelUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.log.Warn("channel upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn, err := s.registry.Accept(ws, role, isMobile)
	if err != nil {
		ws.Close()
		return
	}
	s.router.Serve(conn)
}

func statusForJobError(err error) int {
	var notFound elerrors.DatasetNotFoundError
	var noWorkers elerrors.NoWorkersError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &noWorkers):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError
	default:
		var worker elerrors.WorkerFailureError
		var transport elerrors.TransportError
		var merge elerrors.MergeError
		if errors.As(err, &worker) || errors.As(err, &transport) || errors.As(err, &merge) {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
