// classify.go — Error-kind classification driving the retry decisions.
// Phrase lists are data: hostile sites and Chrome keep inventing new error
// strings, and extending a list is not a logic change.
package scheduler

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/tagwatch/tagwatch/internal/types"
)

// retryablePhrases mark transient transport and renderer failures worth an
// inline retry.
var retryablePhrases = []string{
	"connection refused",
	"connection reset",
	"net::err_connection",
	"net::err_timed_out",
	"net::err_name_not_resolved",
	"net::err_empty_response",
	"page crashed",
	"target crashed",
	"502",
	"503",
	"504",
}

// configErrorPhrases mark failures caused by the catalog entry itself.
// Retrying cannot help; these surface as validation errors.
var configErrorPhrases = []string{
	"invalid url",
	"unsupported protocol scheme",
	"missing protocol scheme",
	"malformed url",
	"empty target url",
}

// isTimeout reports whether the failure is a deadline overrun. Timeouts are
// never retried inline: phase 1 escalates them to phase 2, phase 2 sends
// them to the retry queue.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// isConfigError reports whether the failure matches the configuration-error
// phrase list.
func isConfigError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range configErrorPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// serverErrorVerdict reports whether a completed pipeline run classified
// the page as a server error (HTTP 5xx or an error page served with 200).
// These pages are transient: the verdict is recorded, and the property
// re-runs in phase 2 or through the retry queue.
func serverErrorVerdict(v types.Verdict) bool {
	return v.HasIssueKind(types.IssueServerError)
}

// isRetryable reports whether the failure is worth an inline retry.
// Timeouts and configuration errors are excluded; cancellation never
// retries.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if isTimeout(err) || isConfigError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
