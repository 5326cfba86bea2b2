package intel

import (
	"regexp"
	"strings"
)

// The extractor runs an ordered rule list over raw message text. Earlier rules
// consume the spans they match; later rules skip anything overlapping a
// consumed span, so a digit run claimed as a reference id never doubles as a
// phone or bank account. Keywords are matched independently at the end since
// the vocabulary cannot collide with digit or URL spans.

type span struct {
	start, end int
}

func (a span) overlaps(b span) bool {
	return a.start < b.end && b.start < a.end
}

type rule struct {
	kind Kind
	re   *regexp.Regexp
	// group selects the submatch used as the value; 0 takes the whole match.
	group int
}

var rules = []rule{
	{kind: KindPhishingLink, re: regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"')\],;]+`)},
	{kind: KindEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	// UPI handles look like emails but the provider token has no TLD dot
	// (fraud@ybl vs fraud@ybl.com).
	{kind: KindUPIID, re: regexp.MustCompile(`[A-Za-z0-9._+\-]+@[A-Za-z0-9\-]+`)},

	// Explicit prefixed reference codes, most specific first.
	{kind: KindCaseID, re: regexp.MustCompile(`(?i)\b(?:CASE|CS|CRN|FIR)[- ]?\d{2,}(?:-\d+)*\b`)},
	{kind: KindPolicyNumber, re: regexp.MustCompile(`(?i)\b(?:POLICY|POL|LIC|INS)[- ]?\d{2,}(?:-\d+)*\b`)},
	{kind: KindOrderNumber, re: regexp.MustCompile(`(?i)\b(?:ORDER|ORD|AWB|TRK)[- ]?\d{2,}(?:-\d+)*\b`)},

	// Natural-language mentions: "case no 12345", "policy number: 98765".
	{kind: KindCaseID, re: regexp.MustCompile(`(?i)\b(?:case|complaint)\s+(?:no|number|id)\.?\s*[:#]?\s*(\d{3,})\b`), group: 1},
	{kind: KindPolicyNumber, re: regexp.MustCompile(`(?i)\b(?:policy|insurance)\s+(?:no|number|id)\.?\s*[:#]?\s*(\d{3,})\b`), group: 1},
	{kind: KindOrderNumber, re: regexp.MustCompile(`(?i)\b(?:order|parcel|shipment)\s+(?:no|number|id)\.?\s*[:#]?\s*(\d{3,})\b`), group: 1},

	// Phones: international, 91-prefixed, landline with STD code, bare mobile.
	{kind: KindPhone, re: regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{4,5}[-.\s]?\d{4,6}`)},
	{kind: KindPhone, re: regexp.MustCompile(`\b91[-.\s]?\d{10}\b`)},
	{kind: KindPhone, re: regexp.MustCompile(`\b0\d{2,4}[-.\s]?\d{6,8}\b`)},
	{kind: KindPhone, re: regexp.MustCompile(`\b[6-9]\d{9}\b`)},

	// Bank accounts: grouped (1234-5678-9012-3456) and plain 9-20 digit runs.
	// Anything phone- or reference-shaped was already consumed above.
	{kind: KindBankAccount, re: regexp.MustCompile(`\b\d{4}[\s\-]\d{4}[\s\-]\d{4}(?:[\s\-]\d{2,4})?\b`)},
	{kind: KindBankAccount, re: regexp.MustCompile(`\b\d{9,20}\b`)},
}

// keywordVocab is the fixed vocabulary of urgency, credential and authority
// terms reported as keyword evidence.
var keywordVocab = []string{
	"urgent", "urgently", "immediately", "verify", "verification",
	"blocked", "suspended", "suspension", "otp", "kyc", "pin", "cvv",
	"password", "refund", "lottery", "prize", "penalty", "arrest",
	"police", "customs", "legal action", "last chance", "act now",
	"gift card",
}

var keywordRe = func() *regexp.Regexp {
	parts := make([]string, len(keywordVocab))
	for i, w := range keywordVocab {
		parts[i] = strings.ReplaceAll(regexp.QuoteMeta(w), ` `, `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}()

// Extract scans raw text and returns every evidence item it recognizes. It is
// pure and total: no input causes a failure, unmatched text yields an empty set.
func Extract(text string) Set {
	out := Set{}
	var consumed []span

	for _, r := range rules {
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			whole := span{start: m[0], end: m[1]}
			if overlapsAny(whole, consumed) {
				continue
			}
			start, end := m[0], m[1]
			if r.group > 0 {
				start, end = m[2*r.group], m[2*r.group+1]
			}
			if start < 0 {
				continue
			}
			it := normalizeItem(r.kind, text[start:end])
			if it.Kind == KindUPIID && strings.Contains(strings.SplitN(it.Value, "@", 2)[1], ".") {
				continue
			}
			if it.Value == "" {
				continue
			}
			out.Add(it)
			consumed = append(consumed, whole)
		}
	}

	for _, m := range keywordRe.FindAllString(text, -1) {
		out.Add(Item{Kind: KindKeyword, Value: m})
	}

	return out
}

func overlapsAny(s span, consumed []span) bool {
	for _, c := range consumed {
		if s.overlaps(c) {
			return true
		}
	}
	return false
}

// normalizeItem trims surrounding punctuation and applies per-kind
// canonical forms: URLs and emails are lower-cased, bank accounts are reduced
// to their bare digits, prefixed reference codes are upper-cased. Digit
// sequences themselves are never altered.
func normalizeItem(kind Kind, raw string) Item {
	v := strings.TrimSpace(raw)
	v = strings.Trim(v, ".,;:!?)('\"")
	switch kind {
	case KindPhishingLink, KindEmail:
		v = strings.ToLower(v)
	case KindBankAccount:
		v = strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, v)
	case KindCaseID, KindPolicyNumber, KindOrderNumber:
		v = strings.ToUpper(strings.ReplaceAll(v, " ", "-"))
	}
	return Item{Kind: kind, Value: v}
}
