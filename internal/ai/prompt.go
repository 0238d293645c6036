package ai

import (
	"fmt"
	"strconv"
	"strings"
)

// invoiceAnalysisPrompt is sent alongside every analyzed document
const invoiceAnalysisPrompt = `You are analyzing an invoice document. Act as 5 specialized agents working on the same document:

1. **EXTRACTOR**: Extract the vendor name, the invoice date in ISO 8601 format (YYYY-MM-DD), the total amount as a non-negative number, and the ISO 4217 currency code (e.g. "USD", "EUR"). If the vendor cannot be read, use "Unknown".

2. **CLASSIFIER**: Categorize the invoice as one of 'Goods', 'Services', 'Medical', 'Software', or 'Other'.

3. **FRAUD AGENT**: Estimate the fraud risk as an integer from 0 to 100. Check for round numbers, future dates, missing tax identifiers, or odd formatting. Give a short reason.

4. **COMPLIANCE AGENT**: Check whether the document looks like a valid tax invoice. Status must be exactly 'passed' or 'flagged'. Give a short note.

5. **REPORTER**: Write a 1-sentence summary of the invoice.

Return ONLY valid JSON strictly matching this schema:
{
  "extractedData": { "vendor": "string", "amount": 0, "date": "YYYY-MM-DD", "currency": "string" },
  "analysis": {
    "category": "string",
    "fraud": { "score": 0, "reason": "string" },
    "compliance": { "status": "passed", "note": "string" },
    "summary": "string"
  }
}

Important:
- Every field is required
- The amount and the fraud score must be numbers (not strings)
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// noInvoicesContext is the chat context for a user without invoices
const noInvoicesContext = "No invoices uploaded yet."

// AnalysisPrompt returns the fixed instruction for document analysis
func AnalysisPrompt() string {
	return invoiceAnalysisPrompt
}

// InvoiceContext renders invoices as one line each for ChatPrompt
func InvoiceContext(invoices []InvoiceSummary) string {
	if len(invoices) == 0 {
		return noInvoicesContext
	}

	lines := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s %s) - Risk: %d%%",
			inv.Date,
			inv.Vendor,
			inv.Currency,
			strconv.FormatFloat(inv.Amount, 'f', -1, 64),
			inv.FraudScore,
		))
	}
	return strings.Join(lines, "\n")
}

// ChatPrompt grounds the user's question in their invoice context
func ChatPrompt(message, invoiceContext string) string {
	if strings.TrimSpace(invoiceContext) == "" {
		invoiceContext = noInvoicesContext
	}

	var b strings.Builder
	b.WriteString("You are a helpful AI finance assistant for an invoice processing app.\n\n")
	b.WriteString("USER DATA (Invoices):\n")
	b.WriteString(invoiceContext)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "USER QUESTION: %q\n\n", message)
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("- Answer briefly based on the data above.\n")
	b.WriteString("- If the user asks about fraud prevention, give general advice based on the high-risk invoices shown.\n")
	b.WriteString("- If you cannot answer from the data, say \"I don't have enough data.\"\n")
	return b.String()
}
