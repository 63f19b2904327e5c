package commands

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sanity-io/litter"

	"github.com/openfroyo/worker-executor/pkg/executor"
	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/stores"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

const defaultPageSize = 100

var entryDumper = litter.Options{
	Compact:           true,
	StripPackageNames: true,
	HidePrivateFields: true,
}

type workerResponse struct {
	WorkerID         string `json:"worker_id"`
	AccountID        string `json:"account_id"`
	ComponentVersion uint64 `json:"component_version"`
	LastIndex        uint64 `json:"last_index"`
	DeletedRegions   string `json:"deleted_regions"`
	Status           string `json:"status"`
}

type entryResponse struct {
	Index     uint64 `json:"index"`
	Kind      string `json:"kind"`
	Hint      bool   `json:"hint"`
	Timestamp string `json:"timestamp"`
	Entry     string `json:"entry"`
}

type adminServer struct {
	exec    *executor.Executor
	storage stores.IndexedStorage
}

// newAdminRouter serves metrics, a health check and read-only worker
// inspection.
func newAdminRouter(exec *executor.Executor, storage stores.IndexedStorage, metrics *telemetry.Metrics, metricsPath string) *mux.Router {
	s := &adminServer{exec: exec, storage: storage}

	r := mux.NewRouter()
	if metrics != nil {
		r.Handle(metricsPath, metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/workers/{worker}", s.handleWorker).Methods(http.MethodGet)
	r.HandleFunc("/workers/{worker}/oplog", s.handleOplog).Methods(http.MethodGet)
	return r
}

func (s *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *adminServer) handleWorker(w http.ResponseWriter, r *http.Request) {
	workerID, err := oplog.ParseWorkerID(mux.Vars(r)["worker"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	meta, err := s.exec.Metadata(r.Context(), workerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, workerResponse{
		WorkerID:         meta.WorkerID.String(),
		AccountID:        string(meta.AccountID),
		ComponentVersion: uint64(meta.ComponentVersion),
		LastIndex:        uint64(meta.LastIndex),
		DeletedRegions:   meta.DeletedRegions.String(),
		Status:           string(meta.Status),
	})
}

func (s *adminServer) handleOplog(w http.ResponseWriter, r *http.Request) {
	workerID, err := oplog.ParseWorkerID(mux.Vars(r)["worker"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	from, err := queryUint(r, "from", uint64(oplog.Initial))
	if err != nil || from == 0 {
		http.Error(w, "from must be a positive index", http.StatusBadRequest)
		return
	}
	count, err := queryUint(r, "count", defaultPageSize)
	if err != nil || count == 0 {
		http.Error(w, "count must be a positive number", http.StatusBadRequest)
		return
	}

	entries, err := s.exec.Oplogs().Read(r.Context(), workerID, oplog.Index(from), count)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryResponse{
			Index:     uint64(e.Index),
			Kind:      e.Entry.Kind().String(),
			Hint:      oplog.IsHint(e.Entry),
			Timestamp: e.Entry.Time().String(),
			Entry:     entryDumper.Sdump(e.Entry),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var classified *executor.ExecutorError
	if errors.As(err, &classified) && classified.Code == executor.ErrCodeNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
