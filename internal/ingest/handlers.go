package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/LandHubTZ/LandHub-Backend/internal/shapefile"
	"github.com/LandHubTZ/LandHub-Backend/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	runner         *Runner
	store          *Store
	maxUploadBytes int64
}

func NewHandler(runner *Runner, store *Store, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{runner: runner, store: store, maxUploadBytes: maxUploadBytes}
}

// UploadHandler accepts the multipart shapefile payload (shp_file, dbf_file,
// optional prj_file, optional location_id) and answers with a job id the
// client can poll. Request-shape problems and unreadable headers are
// rejected here; everything past that is the job's story.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Per-file ceiling is enforced by the transport; this is it.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Upload too large or malformed", http.StatusRequestEntityTooLarge)
		return
	}

	shpBytes, err := formFileBytes(r, "shp_file")
	if err != nil {
		http.Error(w, "Missing or unreadable shp_file", http.StatusBadRequest)
		return
	}
	dbfBytes, err := formFileBytes(r, "dbf_file")
	if err != nil {
		http.Error(w, "Missing or unreadable dbf_file", http.StatusBadRequest)
		return
	}
	prjBytes, _ := formFileBytes(r, "prj_file") // optional

	var locationID *uuid.UUID
	if v := r.FormValue("location_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "Invalid location_id", http.StatusBadRequest)
			return
		}
		locationID = &id
	}

	jobID, err := h.runner.Submit(UploadBundle{SHP: shpBytes, DBF: dbfBytes, PRJ: prjBytes}, locationID, userID)
	if err != nil {
		var pe *shapefile.ParseError
		if errors.As(err, &pe) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":  pe.Message,
				"reason": pe.Reason,
			})
			return
		}
		if errors.Is(err, ErrMissingFiles) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to start ingestion", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job_id": jobID,
		"status": string(StateQueued),
	})
}

// StatusHandler reports a job's current state. Only the submitting user (or
// an admin) may poll a job.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	status, err := h.store.Get(jobID)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	role, _ := utils.GetUserRoleFromContext(r.Context())
	if status.SubmittedBy != userID && role != "admin" && role != "master_admin" {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	return io.ReadAll(file)
}
