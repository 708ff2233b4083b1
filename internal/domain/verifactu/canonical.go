// Package verifactu holds the pure parts of the compliance pipeline: the
// canonical form of an invoice, the hash chain built from it, and the
// rollout rule that picks real or simulated transmission.
package verifactu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

const (
	dateLayout = "2006-01-02"

	// KeyPreviousHash is always emitted, empty for the first link of a chain.
	KeyPreviousHash = "previousHash"
)

// Canonicalize returns the canonical bytes of an invoice with its issuer and
// recipient snapshots. The predecessor hash is taken from inv.HashBefore.
func Canonicalize(inv *invoicing.Invoice, issuer, recipient invoicing.Party) ([]byte, error) {
	return canonicalizeWith(inv, issuer, recipient, inv.HashBefore)
}

func canonicalizeWith(inv *invoicing.Invoice, issuer, recipient invoicing.Party, previousHash string) ([]byte, error) {
	if inv == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "canonicalize: nil invoice")
	}
	if inv.Totals == nil {
		return nil, shared.NewDomainErrorf(shared.CodeValidation, "canonicalize: invoice %s has no totals", inv.ID)
	}
	doc := map[string]any{
		"issuer":        partyFields(issuer),
		"recipient":     partyFields(recipient),
		"invoice":       invoiceFields(inv),
		"items":         itemList(inv.Items),
		"totals":        totalsFields(*inv.Totals),
		KeyPreviousHash: text(previousHash),
	}
	return encodeDocument(prune(doc))
}

// Recanonicalize parses canonical bytes and re-emits them in canonical form.
// Canonical input is a fixed point: Recanonicalize(c) == c.
func Recanonicalize(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, shared.NewDomainErrorf(shared.CodeInvalidInput, "recanonicalize: %v", err)
	}
	if dec.More() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "recanonicalize: trailing data")
	}
	normalized, ok := normalize(doc).(map[string]any)
	if !ok {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "recanonicalize: not an object")
	}
	return encodeDocument(prune(normalized))
}

// encodeDocument sorts pruned lines and serializes the document
func encodeDocument(doc map[string]any) ([]byte, error) {
	if items, ok := doc["items"].([]any); ok {
		sortItems(items)
	}
	return encode(doc)
}

func partyFields(p invoicing.Party) map[string]any {
	return map[string]any{
		"taxId":   text(p.TaxID),
		"name":    text(p.Name),
		"address": text(p.Address),
		"city":    text(p.City),
		"country": strings.ToUpper(text(p.Country)),
	}
}

func invoiceFields(inv *invoicing.Invoice) map[string]any {
	fields := map[string]any{
		"series":          text(inv.Series),
		"number":          text(inv.Number),
		"notes":           text(inv.Notes),
		"withholdingRate": money(inv.WithholdingRate),
		"surchargeRate":   money(inv.SurchargeRate),
	}
	if !inv.IssueDate.IsZero() {
		fields["issueDate"] = inv.IssueDate.UTC().Format(dateLayout)
	}
	return fields
}

func totalsFields(t invoicing.Totals) map[string]any {
	return map[string]any{
		"base":        money(t.Base),
		"tax":         money(t.Tax),
		"withholding": money(t.Withholding),
		"surcharge":   money(t.Surcharge),
		"total":       money(t.Total),
	}
}

func itemList(items []invoicing.Item) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"description":  text(item.Description),
			"quantity":     quantity(item.Quantity),
			"unitPrice":    money(item.UnitPrice),
			"taxRate":      money(item.TaxRate),
			"discountRate": money(item.DiscountRate),
			"subtotal":     money(item.Subtotal()),
			"total":        money(item.Total()),
		})
	}
	return out
}

// sortItems orders lines by description, breaking ties on the full encoded
// line so the order is total.
func sortItems(items []any) {
	keys := make([]string, len(items))
	descs := make([]string, len(items))
	for i, item := range items {
		b, _ := encode(item)
		keys[i] = string(b)
		if m, ok := item.(map[string]any); ok {
			descs[i], _ = m["description"].(string)
		}
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if descs[ia] != descs[ib] {
			return descs[ia] < descs[ib]
		}
		return keys[ia] < keys[ib]
	})
	sorted := make([]any, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}

// text trims and NFC-normalizes a text field
func text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// money formats a monetary or percentage value with exactly two decimals
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// quantity keeps the exact value without trailing zeros
func quantity(d decimal.Decimal) string {
	return d.String()
}

// prune drops blank optional values recursively. previousHash stays.
func prune(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == KeyPreviousHash {
			out[k] = v
			continue
		}
		switch val := v.(type) {
		case string:
			if val == "" {
				continue
			}
		case map[string]any:
			val = prune(val)
			if len(val) == 0 {
				continue
			}
			v = val
		case []any:
			for i, e := range val {
				if em, ok := e.(map[string]any); ok {
					val[i] = prune(em)
				}
			}
		case nil:
			continue
		}
		out[k] = v
	}
	return out
}

// normalize applies text normalization to every string in a decoded tree
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return text(val)
	case json.Number:
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[text(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// encode writes compact JSON with sorted keys and no HTML escaping
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
