package invoice

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-insight/internal/ai"
	"github.com/zombor/invoice-insight/internal/quota"
)

// Analyzer turns a document into structured invoice data, see ai.Analyzer
type Analyzer interface {
	Analyze(ctx context.Context, document []byte, mediaType string, choice string) (*ai.AnalysisResult, error)
}

// Assistant answers questions about invoices, see ai.Assistant
type Assistant interface {
	Chat(ctx context.Context, message, invoiceContext, choice string) (string, error)
}

// UsageReporter reports the shared daily budget, see quota.Guard
type UsageReporter interface {
	Usage(ctx context.Context, date string) (quota.Admission, error)
}

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles invoice operations
type Service struct {
	db          DB
	analyzer    Analyzer
	assistant   Assistant
	usage       UsageReporter
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID ids and the system clock
func NewService(db DB, analyzer Analyzer, assistant Assistant, usage UsageReporter, storage Storage) *Service {
	return NewServiceWithDeps(db, analyzer, assistant, usage, storage, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, analyzer Analyzer, assistant Assistant, usage UsageReporter, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		analyzer:    analyzer,
		assistant:   assistant,
		usage:       usage,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename keeps letters, digits, spaces, hyphens and underscores and
// truncates the base name to 50 characters
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	ext = unsafeFilenameChars.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// ProcessInvoice analyzes an uploaded document and stores the result for userID.
// Analysis errors are returned unwrapped so callers can match them with errors.Is.
func (s *Service) ProcessInvoice(ctx context.Context, userID, filename string, data []byte, contentType, choice string) (*Invoice, error) {
	result, err := s.analyzer.Analyze(ctx, data, contentType, choice)
	if err != nil {
		slog.Error("Failed to analyze invoice",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"model", choice,
			"error", err,
		)
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	stored, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	invoice := &Invoice{
		ID:            id,
		UserID:        userID,
		FileName:      filename,
		StoredFile:    stored,
		ContentType:   contentType,
		Model:         choice,
		ExtractedData: result.ExtractedData,
		Analysis:      result.Analysis,
		CreatedAt:     now,
	}

	if err := s.db.SaveInvoice(invoice); err != nil {
		if delErr := s.storage.Delete(stored); delErr != nil {
			slog.Warn("Failed to clean up file", "filename", stored, "error", delErr)
		}
		return nil, fmt.Errorf("saving invoice to database: %w", err)
	}

	return invoice, nil
}

// ListInvoices returns the invoices of userID, newest first
func (s *Service) ListInvoices(userID string) ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices(userID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return invoices, nil
}

// GetInvoice returns an invoice owned by userID
func (s *Service) GetInvoice(userID, id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if invoice.UserID != userID {
		return nil, fmt.Errorf("getting invoice: %w: %s", ErrNotFound, id)
	}
	return invoice, nil
}

// GetInvoiceFile returns the original document and its content type
func (s *Service) GetInvoiceFile(userID, id string) ([]byte, string, error) {
	invoice, err := s.GetInvoice(userID, id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.storage.Get(invoice.StoredFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	return data, invoice.ContentType, nil
}

// DeleteInvoice removes an invoice and its document
func (s *Service) DeleteInvoice(userID, id string) error {
	invoice, err := s.GetInvoice(userID, id)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(invoice.StoredFile); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "filename", invoice.StoredFile, "error", err)
	}

	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice from database: %w", err)
	}
	return nil
}

// Chat answers a question about the invoices of userID
func (s *Service) Chat(ctx context.Context, userID, message, choice string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message is required")
	}

	invoices, err := s.db.ListInvoices(userID)
	if err != nil {
		return "", fmt.Errorf("listing invoices for chat: %w", err)
	}

	summaries := make([]ai.InvoiceSummary, 0, len(invoices))
	for _, invoice := range invoices {
		summaries = append(summaries, invoice.Summary())
	}

	return s.assistant.Chat(ctx, message, ai.InvoiceContext(summaries), choice)
}

// Usage reports today's shared budget
func (s *Service) Usage(ctx context.Context) (quota.Admission, error) {
	return s.usage.Usage(ctx, quota.Today(s.timeSource.Now()))
}

var exportHeader = []string{"Date", "Vendor", "Amount", "Currency", "Category", "Risk Score", "Compliance Status"}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ExportCSV writes the invoices of userID as CSV, newest first
func (s *Service) ExportCSV(w io.Writer, userID string) error {
	invoices, err := s.db.ListInvoices(userID)
	if err != nil {
		return fmt.Errorf("listing invoices for export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, inv := range invoices {
		record := []string{
			valueOr(inv.ExtractedData.Date, "N/A"),
			valueOr(inv.ExtractedData.Vendor, "Unknown"),
			strconv.FormatFloat(inv.ExtractedData.Amount, 'f', -1, 64),
			valueOr(inv.ExtractedData.Currency, "USD"),
			valueOr(inv.Analysis.Category, "Uncategorized"),
			strconv.Itoa(inv.Analysis.Fraud.Score),
			string(inv.Analysis.Compliance.Status),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
