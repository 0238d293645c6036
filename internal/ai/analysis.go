package ai

// ExtractedData is the raw financial data read from an invoice
type ExtractedData struct {
	Vendor   string  `json:"vendor"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"` // YYYY-MM-DD
	Currency string  `json:"currency"`
}

// FraudAnalysis holds the fraud risk estimate, Score in [0, 100]
type FraudAnalysis struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// ComplianceStatus is the outcome of the tax invoice check
type ComplianceStatus string

const (
	CompliancePassed  ComplianceStatus = "passed"
	ComplianceFlagged ComplianceStatus = "flagged"
)

// ComplianceAnalysis holds the compliance check result
type ComplianceAnalysis struct {
	Status ComplianceStatus `json:"status"`
	Note   string           `json:"note"`
}

// Analysis is the model's judgement of an invoice
type Analysis struct {
	Category   string             `json:"category"`
	Fraud      FraudAnalysis      `json:"fraud"`
	Compliance ComplianceAnalysis `json:"compliance"`
	Summary    string             `json:"summary"`
}

// AnalysisResult is the full structured answer for one analyzed document
type AnalysisResult struct {
	ExtractedData ExtractedData `json:"extractedData"`
	Analysis      Analysis      `json:"analysis"`
}

// Document is an uploaded file passed to the model untouched
type Document struct {
	Data     []byte
	MIMEType string
}

// InvoiceSummary is one line of chat context
type InvoiceSummary struct {
	Date       string
	Vendor     string
	Amount     float64
	Currency   string
	FraudScore int
}
