package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zombor/invoice-insight/internal/quota"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrProcessingFailed is returned by Analyze for every failure that is not a quota or store problem
var ErrProcessingFailed = errors.New("ai processing failed")

// SchemaError reports model output that does not decode into an AnalysisResult.
// Field is the JSON path of the offending field, empty when the whole document is unusable.
type SchemaError struct {
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid analysis response: %s", e.Reason)
	}
	return fmt.Sprintf("invalid analysis response: %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// quotaMarkers are matched case-insensitively against provider error text
var quotaMarkers = []string{
	"429",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
}

// ClassifyProviderError turns an upstream rate limit signal into a provider
// ExceededError and returns any other error unchanged. It is the only place
// that knows how providers report rate limits.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if isProviderQuota(err) {
		return &quota.ExceededError{Source: quota.SourceProvider, Err: err}
	}
	return err
}

func isProviderQuota(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
