package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/csvio"
	"github.com/Rohithcheryala/Image-Processing-API/id"
	"github.com/Rohithcheryala/Image-Processing-API/intake"
)

// SubmitRequest is the JSON submission body.
type SubmitRequest struct {
	SourceName string              `json:"source_name,omitempty"`
	WebhookURL string              `json:"webhook_url,omitempty"`
	Items      []SubmitItemRequest `json:"items"`
}

// SubmitItemRequest is one item of a JSON submission.
type SubmitItemRequest struct {
	Sequence  int      `json:"sequence_number"`
	Name      string   `json:"name"`
	InputRefs []string `json:"input_refs"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	ItemCount int    `json:"item_count"`
}

// StatusResponse reports a batch's live progress.
type StatusResponse struct {
	BatchID        string     `json:"batch_id"`
	Status         string     `json:"status"`
	ItemCount      int        `json:"item_count"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	Percentage     float64    `json:"percentage"`
	WebhookState   string     `json:"webhook_state"`
	Cause          string     `json:"cause,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// DetailsResponse reports a batch together with its items.
type DetailsResponse struct {
	StatusResponse
	Items []*batch.Item `json:"items"`
}

func statusResponse(b *batch.Batch) StatusResponse {
	p := batch.Progress{Completed: b.CompletedCount, Failed: b.FailedCount, Total: b.ItemCount}
	return StatusResponse{
		BatchID:        b.ID.String(),
		Status:         string(b.Status),
		ItemCount:      b.ItemCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Percentage:     p.Percentage(),
		WebhookState:   string(b.WebhookState),
		Cause:          b.Cause,
		CreatedAt:      b.CreatedAt,
		CompletedAt:    b.CompletedAt,
	}
}

// handleUpload accepts a multipart CSV submission. The file goes in the
// "file" field; an optional "webhook_url" field registers a completion
// webhook.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	specs, err := csvio.Parse(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]intake.ItemSpec, len(specs))
	for i, spec := range specs {
		items[i] = intake.ItemSpec{Sequence: spec.Sequence, Name: spec.Name, Refs: spec.Refs}
	}

	b, err := s.intake.Submit(r.Context(), intake.Submission{
		SourceName: header.Filename,
		WebhookURL: r.FormValue("webhook_url"),
		Items:      items,
	})
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, SubmitResponse{
		BatchID:   b.ID.String(),
		Status:    string(b.Status),
		ItemCount: b.ItemCount,
	})
}

// handleSubmit accepts a JSON submission.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	items := make([]intake.ItemSpec, len(req.Items))
	for i, it := range req.Items {
		seq := it.Sequence
		if seq == 0 {
			seq = i + 1
		}
		items[i] = intake.ItemSpec{Sequence: seq, Name: it.Name, Refs: it.InputRefs}
	}

	b, err := s.intake.Submit(r.Context(), intake.Submission{
		SourceName: req.SourceName,
		WebhookURL: req.WebhookURL,
		Items:      items,
	})
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, SubmitResponse{
		BatchID:   b.ID.String(),
		Status:    string(b.Status),
		ItemCount: b.ItemCount,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathBatchID(w, r)
	if !ok {
		return
	}

	b, err := s.intake.Status(r.Context(), batchID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, statusResponse(b))
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathBatchID(w, r)
	if !ok {
		return
	}

	b, items, err := s.intake.Details(r.Context(), batchID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	// Published output URLs, not raw storage keys.
	for _, it := range items {
		for i, key := range it.OutputRefs {
			it.OutputRefs[i] = s.imageURL(r, key)
		}
	}

	s.respondJSON(w, http.StatusOK, DetailsResponse{
		StatusResponse: statusResponse(b),
		Items:          items,
	})
}

// handleDownload streams the terminal CSV export. While the batch is
// still processing it answers 409, because the output column is only
// complete once every item settles.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathBatchID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batchID.String()+".csv"))

	err := s.intake.Export(r.Context(), batchID, w, func(key string) string {
		return s.imageURL(r, key)
	})
	if err != nil {
		// Reset the CSV headers if nothing was written yet.
		w.Header().Del("Content-Disposition")
		switch {
		case errors.Is(err, imgproc.ErrBatchNotTerminal):
			s.respondError(w, http.StatusConflict, err)
		default:
			s.respondStoreError(w, err)
		}
		return
	}
}

// handleImage serves one processed output blob.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if !blob.ValidKey(filename) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid filename %q", filename))
		return
	}

	data, err := s.blobs.Get(r.Context(), filename)
	if err != nil {
		if errors.Is(err, imgproc.ErrBlobNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathBatchID(w, r)
	if !ok {
		return
	}

	if err := s.intake.Cancel(r.Context(), batchID); err != nil {
		s.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathBatchID(w http.ResponseWriter, r *http.Request) (id.BatchID, bool) {
	batchID, err := id.ParseBatchID(r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid batch id: %w", err))
		return id.BatchID{}, false
	}
	return batchID, true
}

// imageURL maps a stored output key to the URL it is served from.
func (s *Server) imageURL(r *http.Request, key string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/api/image/%s", scheme, r.Host, key)
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	var verr *intake.ValidationError
	if errors.As(err, &verr) {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondError(w, http.StatusInternalServerError, err)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imgproc.ErrBatchNotFound), errors.Is(err, imgproc.ErrItemNotFound):
		s.respondError(w, http.StatusNotFound, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
