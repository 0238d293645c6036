package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-insight/internal/quota"
)

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeAIError maps the AI error taxonomy to a response. Both quota sources
// share one status code and are told apart by the "source" field.
func writeAIError(w http.ResponseWriter, err error, fallback string) {
	var exceeded *quota.ExceededError
	switch {
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":  "Daily AI quota exceeded. Try again tomorrow or switch to the lite model.",
			"code":   "QUOTA_EXCEEDED",
			"source": string(exceeded.Source),
		})
	case errors.Is(err, quota.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// contentTypeFor returns the declared type of an upload, falling back to its extension
func contentTypeFor(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadInvoice analyzes and stores an uploaded invoice
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer f.Close()

	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)
	invoice, err := s.service.ProcessInvoice(r.Context(), userID(r), header.Filename, data, contentType, r.FormValue("model"))
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		writeAIError(w, err, "Failed to process invoice")
		return
	}

	writeJSON(w, http.StatusCreated, invoice)
}

// handleListInvoices returns the caller's invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices(userID(r))
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch invoices")
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.service.GetInvoice(userID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		slog.Error("Error getting invoice", "error", err)
		writeError(w, http.StatusInternalServerError, "Error getting invoice")
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleGetInvoiceFile returns the original document of an invoice
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoiceFile(userID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Error getting invoice file", "error", err)
		writeError(w, http.StatusInternalServerError, "Error getting file")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteInvoice deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(userID(r), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		slog.Error("Error deleting invoice", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting invoice")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChat answers a question about the caller's invoices
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Model   string `json:"model"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	reply, err := s.service.Chat(r.Context(), userID(r), req.Message, req.Model)
	if err != nil {
		slog.Error("Error answering chat", "error", err)
		writeAIError(w, err, "Chat service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// handleExport streams the caller's invoices as CSV
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices_export.csv"`)
	if err := s.service.ExportCSV(w, userID(r)); err != nil {
		slog.Error("Error exporting invoices", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to export data")
	}
}

// handleUsage reports today's shared AI budget
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.service.Usage(r.Context())
	if err != nil {
		slog.Error("Error reading usage", "error", err)
		writeAIError(w, err, "Failed to read usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":      usage.Date,
		"count":     usage.Count,
		"limit":     usage.Limit,
		"remaining": usage.Remaining,
	})
}
