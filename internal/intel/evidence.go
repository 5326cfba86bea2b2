package intel

import (
	"sort"
	"strings"
)

// Kind classifies a single piece of extracted intelligence.
type Kind string

const (
	KindPhone        Kind = "phone"
	KindBankAccount  Kind = "bank_account"
	KindUPIID        Kind = "upi_id"
	KindPhishingLink Kind = "phishing_link"
	KindEmail        Kind = "email"
	KindCaseID       Kind = "case_id"
	KindPolicyNumber Kind = "policy_number"
	KindOrderNumber  Kind = "order_number"
	KindKeyword      Kind = "keyword"
)

// Item is one piece of evidence. Value holds the normalized representation:
// surrounding punctuation stripped, URLs/emails lower-cased, digit sequences
// kept verbatim. Keywords keep their original casing.
type Item struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

type itemKey struct {
	kind  Kind
	canon string
}

// Set is a deduplicated collection of evidence items keyed by
// (kind, canonical value). The zero value is an empty, usable set.
type Set struct {
	items map[itemKey]Item
}

// NewSet returns an empty evidence set.
func NewSet(items ...Item) Set {
	s := Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func canonValue(kind Kind, value string) string {
	switch kind {
	case KindKeyword, KindUPIID:
		// Equality is case-insensitive; the stored value keeps its casing.
		return strings.ToLower(value)
	default:
		return value
	}
}

// Add inserts an item and reports whether it was not already present.
func (s *Set) Add(it Item) bool {
	if it.Value == "" {
		return false
	}
	if s.items == nil {
		s.items = make(map[itemKey]Item)
	}
	k := itemKey{kind: it.Kind, canon: canonValue(it.Kind, it.Value)}
	if _, ok := s.items[k]; ok {
		return false
	}
	s.items[k] = it
	return true
}

// Contains reports whether an item with the same identity is present.
func (s Set) Contains(kind Kind, value string) bool {
	if s.items == nil {
		return false
	}
	_, ok := s.items[itemKey{kind: kind, canon: canonValue(kind, value)}]
	return ok
}

// HasAny reports whether at least one item of any of the given kinds exists.
func (s Set) HasAny(kinds ...Kind) bool {
	for _, it := range s.items {
		for _, k := range kinds {
			if it.Kind == k {
				return true
			}
		}
	}
	return false
}

// Len returns the number of distinct items.
func (s Set) Len() int {
	return len(s.items)
}

// Items returns all items sorted by kind then value, for stable output.
func (s Set) Items() []Item {
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := Set{}
	for _, it := range s.items {
		out.Add(it)
	}
	return out
}

// Merge unions any number of evidence sets into a new set. Inputs are not
// mutated. The union is idempotent and commutative, and every input set is a
// subset of the result, so accumulated evidence can only grow.
func Merge(sets ...Set) Set {
	out := Set{}
	for _, s := range sets {
		for _, it := range s.items {
			out.Add(it)
		}
	}
	return out
}

// Report is the grouped wire representation of an evidence set, matching the
// extractedIntelligence response object.
type Report struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	EmailAddresses     []string `json:"emailAddresses"`
	CaseIDs            []string `json:"caseIds"`
	PolicyNumbers      []string `json:"policyNumbers"`
	OrderNumbers       []string `json:"orderNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// Report groups the set into per-kind sorted lists. Every list is non-nil so
// the serialized form always carries all fields.
func (s Set) Report() Report {
	r := Report{
		BankAccounts:       []string{},
		UPIIDs:             []string{},
		PhishingLinks:      []string{},
		PhoneNumbers:       []string{},
		EmailAddresses:     []string{},
		CaseIDs:            []string{},
		PolicyNumbers:      []string{},
		OrderNumbers:       []string{},
		SuspiciousKeywords: []string{},
	}
	for _, it := range s.Items() {
		switch it.Kind {
		case KindBankAccount:
			r.BankAccounts = append(r.BankAccounts, it.Value)
		case KindUPIID:
			r.UPIIDs = append(r.UPIIDs, it.Value)
		case KindPhishingLink:
			r.PhishingLinks = append(r.PhishingLinks, it.Value)
		case KindPhone:
			r.PhoneNumbers = append(r.PhoneNumbers, it.Value)
		case KindEmail:
			r.EmailAddresses = append(r.EmailAddresses, it.Value)
		case KindCaseID:
			r.CaseIDs = append(r.CaseIDs, it.Value)
		case KindPolicyNumber:
			r.PolicyNumbers = append(r.PolicyNumbers, it.Value)
		case KindOrderNumber:
			r.OrderNumbers = append(r.OrderNumbers, it.Value)
		case KindKeyword:
			r.SuspiciousKeywords = append(r.SuspiciousKeywords, it.Value)
		}
	}
	return r
}

// FromReport rebuilds an evidence set from its grouped wire form. Values go
// through the same normalization as freshly extracted items so oracle-supplied
// evidence dedupes against pattern-extracted evidence.
func FromReport(r Report) Set {
	s := Set{}
	add := func(kind Kind, values []string) {
		for _, v := range values {
			s.Add(normalizeItem(kind, v))
		}
	}
	add(KindBankAccount, r.BankAccounts)
	add(KindUPIID, r.UPIIDs)
	add(KindPhishingLink, r.PhishingLinks)
	add(KindPhone, r.PhoneNumbers)
	add(KindEmail, r.EmailAddresses)
	add(KindCaseID, r.CaseIDs)
	add(KindPolicyNumber, r.PolicyNumbers)
	add(KindOrderNumber, r.OrderNumbers)
	add(KindKeyword, r.SuspiciousKeywords)
	return s
}
