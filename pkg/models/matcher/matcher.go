package matcher

import (
	"strings"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
)

// Matches reports whether msg satisfies all present filters in criteria,
// evaluated at now. Empty criteria match nothing. The evaluation time is
// injected so the function stays deterministic.
func Matches(msg base.Message, criteria base.MatchCriteria, now time.Time) bool {
	if criteria.Empty() {
		return false
	}

	if sender := strings.TrimSpace(criteria.Sender); sender != "" {
		if !matchesSender(msg.Sender, sender, criteria.SenderExact) {
			return false
		}
	}

	if subject := strings.TrimSpace(criteria.Subject); subject != "" {
		if !strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(subject)) {
			return false
		}
	}

	if criteria.MinAge > 0 {
		if now.Sub(msg.ReceivedAt) < criteria.MinAge {
			return false
		}
	}

	return true
}

func matchesSender(address, filter string, exact bool) bool {
	address = strings.ToLower(address)
	filter = strings.ToLower(filter)
	if exact {
		return address == filter
	}
	return strings.Contains(address, filter)
}
