package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// rawAnalysisResult mirrors AnalysisResult with pointers so that missing
// fields can be told apart from zero values
type rawAnalysisResult struct {
	ExtractedData *struct {
		Vendor   *string  `json:"vendor"`
		Amount   *float64 `json:"amount"`
		Date     *string  `json:"date"`
		Currency *string  `json:"currency"`
	} `json:"extractedData"`
	Analysis *struct {
		Category *string `json:"category"`
		Fraud    *struct {
			Score  *float64 `json:"score"`
			Reason *string  `json:"reason"`
		} `json:"fraud"`
		Compliance *struct {
			Status *string `json:"status"`
			Note   *string `json:"note"`
		} `json:"compliance"`
		Summary *string `json:"summary"`
	} `json:"analysis"`
}

// extractJSONObject returns the first JSON object in a model reply, skipping
// markdown fences and any prose around it
func extractJSONObject(text string) (string, error) {
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", errors.New("no JSON object found in response")
	}

	var obj json.RawMessage
	if err := json.NewDecoder(strings.NewReader(text[startIdx:])).Decode(&obj); err != nil {
		return "", fmt.Errorf("response is not valid JSON: %w", err)
	}
	return string(obj), nil
}

func missing(field string) *SchemaError {
	return &SchemaError{Field: field, Reason: "required field is missing"}
}

// ParseAnalysis decodes and validates a model reply. Every field is required;
// nothing is defaulted or clamped. Failures are *SchemaError.
func ParseAnalysis(text string) (*AnalysisResult, error) {
	body, err := extractJSONObject(text)
	if err != nil {
		return nil, &SchemaError{Reason: err.Error(), Err: errors.Unwrap(err)}
	}

	var raw rawAnalysisResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &SchemaError{
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
				Err:    err,
			}
		}
		return nil, &SchemaError{Reason: "response is not valid JSON", Err: err}
	}

	ed := raw.ExtractedData
	if ed == nil {
		return nil, missing("extractedData")
	}
	switch {
	case ed.Vendor == nil:
		return nil, missing("extractedData.vendor")
	case ed.Amount == nil:
		return nil, missing("extractedData.amount")
	case ed.Date == nil:
		return nil, missing("extractedData.date")
	case ed.Currency == nil:
		return nil, missing("extractedData.currency")
	}
	if *ed.Amount < 0 {
		return nil, &SchemaError{Field: "extractedData.amount", Reason: fmt.Sprintf("must not be negative, got %v", *ed.Amount)}
	}
	date := strings.TrimSpace(*ed.Date)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, &SchemaError{Field: "extractedData.date", Reason: fmt.Sprintf("not an ISO 8601 date: %q", *ed.Date), Err: err}
	}
	currency := strings.TrimSpace(*ed.Currency)
	if currency == "" {
		return nil, &SchemaError{Field: "extractedData.currency", Reason: "must not be empty"}
	}

	an := raw.Analysis
	if an == nil {
		return nil, missing("analysis")
	}
	switch {
	case an.Category == nil:
		return nil, missing("analysis.category")
	case an.Fraud == nil:
		return nil, missing("analysis.fraud")
	case an.Fraud.Score == nil:
		return nil, missing("analysis.fraud.score")
	case an.Fraud.Reason == nil:
		return nil, missing("analysis.fraud.reason")
	case an.Compliance == nil:
		return nil, missing("analysis.compliance")
	case an.Compliance.Status == nil:
		return nil, missing("analysis.compliance.status")
	case an.Compliance.Note == nil:
		return nil, missing("analysis.compliance.note")
	case an.Summary == nil:
		return nil, missing("analysis.summary")
	}

	score := *an.Fraud.Score
	if score != math.Trunc(score) || score < 0 || score > 100 {
		return nil, &SchemaError{Field: "analysis.fraud.score", Reason: fmt.Sprintf("must be an integer from 0 to 100, got %v", score)}
	}
	status := ComplianceStatus(strings.ToLower(strings.TrimSpace(*an.Compliance.Status)))
	if status != CompliancePassed && status != ComplianceFlagged {
		return nil, &SchemaError{Field: "analysis.compliance.status", Reason: fmt.Sprintf("must be %q or %q, got %q", CompliancePassed, ComplianceFlagged, *an.Compliance.Status)}
	}

	return &AnalysisResult{
		ExtractedData: ExtractedData{
			Vendor:   strings.TrimSpace(*ed.Vendor),
			Amount:   *ed.Amount,
			Date:     date,
			Currency: currency,
		},
		Analysis: Analysis{
			Category: strings.TrimSpace(*an.Category),
			Fraud: FraudAnalysis{
				Score:  int(score),
				Reason: *an.Fraud.Reason,
			},
			Compliance: ComplianceAnalysis{
				Status: status,
				Note:   *an.Compliance.Note,
			},
			Summary: strings.TrimSpace(*an.Summary),
		},
	}, nil
}

// ParseChatReply returns the model's answer without its surrounding whitespace
func ParseChatReply(text string) string {
	return strings.TrimSpace(text)
}
