package intel

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	reURL     = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+`)
	reEmail   = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	reUpi     = regexp.MustCompile(`\b[A-Za-z0-9._\-]+@[A-Za-z]+\b`)
	reIfsc    = regexp.MustCompile(`\b[A-Za-z]{4}0[A-Za-z0-9]{6}\b`)
	reDigits  = regexp.MustCompile(`\+?[0-9](?:[0-9 .\-]*[0-9])?`)
	separator = strings.NewReplacer("+", "", " ", "", "-", "", ".", "", "(", "", ")", "")
)

// upiProviders is the closed set of PSP suffixes accepted as UPI handles.
// Anything not on the list is left for the email recogniser or dropped.
var upiProviders = map[string]bool{
	"apl":        true,
	"axl":        true,
	"axisbank":   true,
	"barodampay": true,
	"fbl":        true,
	"hdfcbank":   true,
	"ibl":        true,
	"icici":      true,
	"idfcbank":   true,
	"kotak":      true,
	"okaxis":     true,
	"okhdfcbank": true,
	"okicici":    true,
	"oksbi":      true,
	"paytm":      true,
	"pockets":    true,
	"ptaxis":     true,
	"ptsbi":      true,
	"ptyes":      true,
	"sbi":        true,
	"upi":        true,
	"waaxis":     true,
	"wahdfcbank": true,
	"waicici":    true,
	"wasbi":      true,
	"yapl":       true,
	"ybl":        true,
	"yesbank":    true,
}

// recognise runs the deterministic recognisers over one utterance and
// returns the canonicalised entities, in discovery order.
//
// Ordering matters: URLs, emails and UPI handles are matched first and their
// spans masked, so that the digit recogniser does not claim numbers embedded
// in them. Digit runs are classified as phone numbers before bank accounts;
// a run claimed as a phone number is never also a bank account.
func recognise(text string) []Entity {
	var out []Entity
	masked := text

	for _, raw := range reURL.FindAllString(masked, -1) {
		if v, ok := canonicalURL(raw); ok {
			out = append(out, Entity{Kind: KindURL, Value: v, Confidence: 1})
		}
		masked = strings.Replace(masked, raw, strings.Repeat("x", len(raw)), 1)
	}

	for _, raw := range reEmail.FindAllString(masked, -1) {
		out = append(out, Entity{Kind: KindEmail, Value: strings.ToLower(raw), Confidence: 1})
		masked = strings.Replace(masked, raw, strings.Repeat("x", len(raw)), 1)
	}

	for _, raw := range reUpi.FindAllString(masked, -1) {
		local, psp, ok := strings.Cut(raw, "@")
		if !ok || local == "" || !upiProviders[strings.ToLower(psp)] {
			continue
		}
		v := strings.ToLower(local) + "@" + strings.ToLower(psp)
		out = append(out, Entity{Kind: KindUpiHandle, Value: v, Confidence: 1})
		masked = strings.Replace(masked, raw, strings.Repeat("x", len(raw)), 1)
	}

	for _, raw := range reIfsc.FindAllString(masked, -1) {
		out = append(out, Entity{Kind: KindIfscCode, Value: strings.ToUpper(raw), Confidence: 1})
		masked = strings.Replace(masked, raw, strings.Repeat("x", len(raw)), 1)
	}

	for _, run := range reDigits.FindAllString(masked, -1) {
		digits := separator.Replace(run)
		switch {
		case isPhoneRun(run, digits):
			out = append(out, Entity{Kind: KindPhone, Value: canonicalPhone(digits), Confidence: 1})
		case len(digits) >= 9 && len(digits) <= 18:
			out = append(out, Entity{Kind: KindBankAccount, Value: digits, Confidence: 1})
		}
	}

	return out
}

// isPhoneRun reports whether a digit run should be classified as a phone
// number rather than a bank account. Runs of 10 digits, or 11 to 13 digits
// carrying a dialling prefix, count as phone numbers.
func isPhoneRun(raw, digits string) bool {
	n := len(digits)
	switch {
	case n == 10:
		return true
	case n == 11:
		return strings.HasPrefix(digits, "0")
	case n == 12:
		return strings.HasPrefix(digits, "91") || strings.Contains(raw, "+")
	case n == 13:
		return strings.Contains(raw, "+")
	default:
		return false
	}
}

// canonicalPhone strips dialling prefixes so that "+91-98765-43210" and
// "919876543210" coalesce to the same value.
func canonicalPhone(digits string) string {
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	case len(digits) == 10:
		// bare subscriber number
	}
	if len(digits) == 12 && strings.HasPrefix(digits, "91") {
		return digits
	}
	if len(digits) == 10 {
		return "91" + digits
	}
	return digits
}

// canonicalURL lowercases the scheme and host and strips trailing sentence
// punctuation that the regex inevitably swallows.
func canonicalURL(raw string) (string, bool) {
	raw = strings.TrimRight(raw, ".,;:!?)]}'\"")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String(), true
}

// dedupeEntities drops later duplicates of the same (kind, value) pair
// within one utterance.
func dedupeEntities(entities []Entity) []Entity {
	seen := make(map[entityKey]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := entityKey{e.Kind, e.Value}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

type entityKey struct {
	kind  Kind
	value string
}

// stamp sets FirstSeenAt on entities that do not carry one yet.
func stamp(entities []Entity, now time.Time) {
	for i := range entities {
		if entities[i].FirstSeenAt.IsZero() {
			entities[i].FirstSeenAt = now
		}
	}
}
