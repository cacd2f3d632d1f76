// early_exit.go — Page classes that short-circuit validation.
// Phrase lists are data, not code: production keeps finding new shutdown
// notices and error pages, and extending a list is not a logic change.
package validate

import (
	"strings"

	"github.com/tagwatch/tagwatch/internal/types"
)

// serviceClosedPhrases mark pages announcing the service has shut down.
var serviceClosedPhrases = []string{
	"this service has ended",
	"this site has closed",
	"service is no longer available",
	"website is no longer in service",
	"サービスは終了しました",
	"サイトは閉鎖されました",
}

// serverErrorPhrases mark error pages served with a 200.
var serverErrorPhrases = []string{
	"500 internal server error",
	"502 bad gateway",
	"503 service unavailable",
	"service temporarily unavailable",
	"an error occurred while processing your request",
}

type earlyVerdict struct {
	status types.VerdictStatus
	issue  types.Issue
}

// earlyExit classifies service-closed and server-error pages before any
// analytics check runs.
func earlyExit(in Input) (earlyVerdict, bool) {
	body := strings.ToLower(in.Navigation.BodyText)
	title := strings.ToLower(in.Navigation.Title)

	for _, phrase := range serviceClosedPhrases {
		p := strings.ToLower(phrase)
		if strings.Contains(body, p) || strings.Contains(title, p) {
			return earlyVerdict{
				status: types.VerdictFailed,
				issue: types.WarningIssue(types.IssueServiceClosed,
					"page announces the service has closed"),
			}, true
		}
	}

	if in.Navigation.Status >= 500 {
		return earlyVerdict{
			status: types.VerdictError,
			issue: types.CriticalIssue(types.IssueServerError,
				"navigation returned a server error status"),
		}, true
	}
	for _, phrase := range serverErrorPhrases {
		p := strings.ToLower(phrase)
		if strings.Contains(body, p) || strings.Contains(title, p) {
			return earlyVerdict{
				status: types.VerdictError,
				issue: types.CriticalIssue(types.IssueServerError,
					"page body matches a server-error phrase"),
			}, true
		}
	}
	return earlyVerdict{}, false
}

// ServiceClosedPhrases returns the phrase list for diagnostics.
func ServiceClosedPhrases() []string {
	out := make([]string, len(serviceClosedPhrases))
	copy(out, serviceClosedPhrases)
	return out
}
