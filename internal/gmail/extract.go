package gmail

import (
	"regexp"
	"strings"

	"github.com/golang/glog"
)

// Payment is a payer name and amount extracted from a bank notification
// email.
type Payment struct {
	Name   string
	Amount string
}

var (
	outgoingPattern = regexp.MustCompile(`(?i)your\s+transaction.*\s+to\s+`)
	incomingPattern = regexp.MustCompile(`(?i)received.*from`)
	amountPattern   = regexp.MustCompile(`(?i)RM([\d,.]+)`)

	// GXBank format: "You've received RM1.68 from Daneil Goh"
	receivedFromPattern = regexp.MustCompile(`(?i)received\s+RM([\d,.]+)\s+from\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+){1,3})`)
	fromNamePattern     = regexp.MustCompile(`(?i)from\s+([A-Z][a-zA-Z]+\s+[A-Z][a-zA-Z]+)(?:\s+on\s+|\s+via\s+|\.|,|$)`)
	payerLabelPattern   = regexp.MustCompile(`(?i)(?:payer|sender)[:\s]+([A-Z][a-zA-Z]+\s+[A-Z][a-zA-Z]+)`)
	nameLabelPattern    = regexp.MustCompile(`(?i)(?:name|account holder)[:\s]+([A-Z][a-zA-Z]+\s+[A-Z][a-zA-Z]+)`)
)

// Names that leak out of HTML email styling and must never be treated as a
// payer.
var nameBlacklist = []string{
	"helvetica", "arial", "sans-serif", "times new roman", "courier", "verdana", "georgia",
}

// ExtractPayment pulls a payer name and amount out of email content. Only
// incoming "received ... from" notifications qualify; outgoing transfer
// confirmations are skipped.
func ExtractPayment(snippet, text string) (Payment, bool) {
	if outgoingPattern.MatchString(snippet) || outgoingPattern.MatchString(text) {
		glog.V(1).Info("skipping outgoing payment notification")
		return Payment{}, false
	}
	if !incomingPattern.MatchString(snippet) && !incomingPattern.MatchString(text) {
		return Payment{}, false
	}

	// The snippet is clean text; try it before the full body.
	for _, content := range []string{snippet, text} {
		if p, ok := extractFrom(content); ok {
			return p, true
		}
	}
	glog.Warning("could not extract payer name from payment email")
	return Payment{}, false
}

func extractFrom(content string) (Payment, bool) {
	if m := receivedFromPattern.FindStringSubmatch(content); m != nil {
		if p, ok := validated(m[2], m[1]); ok {
			return p, true
		}
	}
	for _, pattern := range []*regexp.Regexp{fromNamePattern, payerLabelPattern, nameLabelPattern} {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		amount := ""
		if am := amountPattern.FindStringSubmatch(content); am != nil {
			amount = am[1]
		}
		if p, ok := validated(m[1], amount); ok {
			return p, true
		}
	}
	return Payment{}, false
}

func validated(name, amount string) (Payment, bool) {
	name = strings.TrimRight(strings.TrimSpace(name), ".,;!?")
	if name == "" {
		return Payment{}, false
	}
	lower := strings.ToLower(name)
	for _, term := range nameBlacklist {
		if strings.Contains(lower, term) {
			return Payment{}, false
		}
	}
	return Payment{Name: name, Amount: strings.TrimRight(amount, ".")}, true
}
