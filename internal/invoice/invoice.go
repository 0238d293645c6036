package invoice

import (
	"errors"
	"time"

	"github.com/zombor/invoice-insight/internal/ai"
)

// ErrNotFound is returned when an invoice does not exist or belongs to another user
var ErrNotFound = errors.New("invoice not found")

// Invoice is an analyzed invoice owned by a user
type Invoice struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	FileName      string           `json:"fileName"`
	StoredFile    string           `json:"storedFile"`
	ContentType   string           `json:"contentType"`
	Model         string           `json:"model"`
	ExtractedData ai.ExtractedData `json:"extractedData"`
	Analysis      ai.Analysis      `json:"analysis"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Summary returns the chat context line data for the invoice
func (i *Invoice) Summary() ai.InvoiceSummary {
	return ai.InvoiceSummary{
		Date:       i.ExtractedData.Date,
		Vendor:     i.ExtractedData.Vendor,
		Amount:     i.ExtractedData.Amount,
		Currency:   i.ExtractedData.Currency,
		FraudScore: i.Analysis.Fraud.Score,
	}
}
