// Package server exposes the conversion service over HTTP: job submission by
// multipart upload, job inspection, artifact downloads and a websocket stream
// of job results.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"scorepipe/internal/config"
	"scorepipe/internal/fsutil"
	"scorepipe/internal/imaging"
	"scorepipe/internal/jobs"
	"scorepipe/internal/storage"
	"scorepipe/internal/transpose"
)

// Server wires the HTTP API to the job pool and store.
type Server struct {
	cfg      *config.Config
	store    *storage.Store
	pool     *jobs.Pool
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	// validate is swapped out by tests; defaults to imaging.ValidateUpload.
	validate func(path string) error
}

func New(cfg *config.Config, store *storage.Store, pool *jobs.Pool, log *slog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		pool:  pool,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate: imaging.ValidateUpload,
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.Routes(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.cfg.Server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Routes builds the HTTP router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/jobs", s.handleCreateJob).Methods("POST")
	r.HandleFunc("/api/jobs", s.handleListJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", s.handleGetJob).Methods("GET")
	r.HandleFunc("/api/jobs/{id}/musicxml", s.handleDownloadMusicXML).Methods("GET")
	r.HandleFunc("/api/jobs/{id}/pdf", s.handleDownloadPDF).Methods("GET")
	r.HandleFunc("/api/ws", s.handleWebSocket).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// jobResponse is the JSON shape for a job in API responses.
type jobResponse struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	OriginalFilename string     `json:"original_filename"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(rec storage.JobRecord) jobResponse {
	return jobResponse{
		ID:               rec.ID,
		Status:           rec.Status,
		Progress:         rec.Progress,
		OriginalFilename: rec.OriginalFilename,
		Error:            rec.Error,
		CreatedAt:        rec.CreatedAt,
		CompletedAt:      rec.CompletedAt,
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Storage.MaxUploadMB) << 20
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "malformed upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	spec, err := parseTransposeSpec(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := jobs.NewID()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	uploadPath := filepath.Join(s.cfg.Storage.Uploads(), jobID+ext)
	if err := saveUpload(file, uploadPath); err != nil {
		s.log.Error("saving upload failed", "error", err)
		http.Error(w, "could not store upload", http.StatusInternalServerError)
		return
	}

	if err := s.validate(uploadPath); err != nil {
		os.Remove(uploadPath)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	job := jobs.Job{
		ID:               jobID,
		OriginalFilename: header.Filename,
		UploadPath:       uploadPath,
		Transpose:        spec,
	}
	if err := s.store.CreateJob(storage.JobRecord{
		ID:                 job.ID,
		OriginalFilename:   job.OriginalFilename,
		UploadPath:         job.UploadPath,
		TransposeSemitones: spec.Semitones,
		TransposeFromKey:   spec.FromKey,
		TransposeToKey:     spec.ToKey,
	}); err != nil {
		s.log.Error("recording job failed", "error", err)
		http.Error(w, "could not record job", http.StatusInternalServerError)
		return
	}
	if err := s.pool.Submit(job); err != nil {
		s.store.Fail(job.ID, "service busy: "+err.Error())
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"id":     job.ID,
		"status": string(jobs.StatusPending),
	})
}

// parseTransposeSpec reads optional transposition fields from the form.
// Key names are not resolved here; bad keys fail the job during processing.
func parseTransposeSpec(r *http.Request) (jobs.TransposeSpec, error) {
	var spec jobs.TransposeSpec
	if v := r.FormValue("transpose_semitones"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, fmt.Errorf("transpose_semitones must be an integer: %q", v)
		}
		if n < transpose.MinSemitones || n > transpose.MaxSemitones {
			return spec, fmt.Errorf("transpose_semitones must be between %d and %d",
				transpose.MinSemitones, transpose.MaxSemitones)
		}
		spec.Semitones = &n
	}
	spec.FromKey = r.FormValue("transpose_from_key")
	spec.ToKey = r.FormValue("transpose_to_key")
	if (spec.FromKey == "") != (spec.ToKey == "") {
		return spec, errors.New("transpose_from_key and transpose_to_key must be given together")
	}
	return spec, nil
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Sync()
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]jobResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toJobResponse(rec))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toJobResponse(rec))
}

func (s *Server) handleDownloadMusicXML(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(rec storage.JobRecord) (string, string) {
		return rec.MusicXMLPath, "application/vnd.recordare.musicxml+xml"
	})
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(rec storage.JobRecord) (string, string) {
		return rec.PDFPath, "application/pdf"
	})
}

// serveArtifact streams a job artifact. Failed jobs never expose artifacts.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, pick func(storage.JobRecord) (path, contentType string)) {
	rec, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if rec.Status == string(jobs.StatusFailed) {
		http.Error(w, "job failed: "+rec.Error, http.StatusConflict)
		return
	}
	path, contentType := pick(rec)
	if path == "" || !fsutil.Exists(path) {
		http.Error(w, "artifact not ready", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fsutil.TrimExt(rec.OriginalFilename)+filepath.Ext(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (storage.JobRecord, bool) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return storage.JobRecord{}, false
	}
	return rec, true
}

// handleWebSocket streams job results to the client as JSON messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	results, unsubscribe := s.pool.Subscribe()
	defer unsubscribe()

	// Reader loop detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			msg := map[string]any{
				"id":     res.Job.ID,
				"status": string(res.Status),
			}
			if res.Error != nil {
				msg["error"] = res.Error.Error()
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
