package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/services"
)

// multipartMemory is the in-memory threshold for multipart parsing; larger
// parts spill to temp files.
const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	ip := clientIP(r)

	// Slack beyond the file limit covers the other form fields and the
	// multipart framing itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartMemory)

	var transportErr error
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		// A malformed or truncated body still goes through the pipeline so
		// the refusal is validated and audited in one place.
		transportErr = err
	}

	category := r.FormValue("category")
	logicalDate, dateErr := time.Parse("2006-01-02", r.FormValue("date"))
	if dateErr != nil && transportErr == nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	req := services.UploadRequest{
		OwnerID:      sess.OwnerID,
		ClientIP:     ip,
		Category:     category,
		LogicalDate:  logicalDate,
		TransportErr: transportErr,
	}
	if transportErr == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		req.OriginalName = header.Filename
		req.Size = header.Size
		req.Body = file
	}

	result, err := s.intake.Upload(r.Context(), req)
	if err != nil {
		s.logger.Error(r.Context(), "upload failed", "owner", sess.OwnerID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch result.Status {
	case services.UploadAccepted:
		s.activity.Record(r.Context(), sess.OwnerID, services.ActivityUpload, result.Record.StoredName, ip)
		writeJSON(w, http.StatusCreated, uploadJSON(result.Record))
	case services.UploadDuplicate:
		writeJSON(w, http.StatusConflict, map[string]any{"status": "duplicate"})
	case services.UploadRejected:
		s.activity.Record(r.Context(), sess.OwnerID, services.ActivityUploadReject, result.Reason, ip)
		writeError(w, http.StatusUnprocessableEntity, result.Reason)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	limit := intQuery(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := intQuery(r, "offset", 0)
	category := r.URL.Query().Get("category")

	records, err := s.intake.List(r.Context(), sess.OwnerID, category, limit, offset)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", category))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, uploadJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id := r.PathValue("id")

	if err := s.intake.Delete(r.Context(), id, sess.OwnerID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.activity.Record(r.Context(), sess.OwnerID, services.ActivityDelete, id, clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	id := r.PathValue("id")

	h, err := s.intake.ResolveDownload(r.Context(), id, sess.OwnerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.activity.Record(r.Context(), sess.OwnerID, services.ActivityDownload, h.Record.StoredName, clientIP(r))

	if h.PresignedURL != "" {
		http.Redirect(w, r, h.PresignedURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Record.StoredName))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, h.LocalPath)
}

func uploadJSON(rec *models.UploadRecord) map[string]any {
	return map[string]any{
		"id":            rec.ID,
		"original_name": rec.OriginalName,
		"stored_name":   rec.StoredName,
		"category":      rec.Category,
		"date":          rec.LogicalDate.Format("2006-01-02"),
		"size":          rec.Size,
		"digest":        rec.ContentDigest,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
	}
}
