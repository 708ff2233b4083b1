package profiling

import (
	"context"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Label keys attached to profiling samples
const (
	LabelCompanyID = "company_id"
	LabelOperation = "operation"
	LabelReason    = "reason"
)

// Pipeline operations used as LabelOperation values
const (
	OperationChainCommit  = "chain_commit"
	OperationWorkerSubmit = "worker_submit"
)

// MaxLabelValueLength caps label values; longer values are truncated
const MaxLabelValueLength = 128

// highCardinality keys would create one series per invoice or request
var highCardinality = map[string]struct{}{
	"invoice_id": {},
	"request_id": {},
	"trace_id":   {},
	"span_id":    {},
	"hash":       {},
	"message_id": {},
}

// Do runs fn with labels attached to every sample taken while it runs.
// Labels nest: an inner Do adds to the labels of the outer one.
func Do(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	clean := sanitize(labels)
	if len(clean) == 0 {
		fn(ctx)
		return
	}
	pairs := make([]string, 0, len(clean)*2)
	for k, v := range clean {
		pairs = append(pairs, k, v)
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// CompanyOperation labels work done for one company's chain
func CompanyOperation(companyID, operation string) map[string]string {
	return map[string]string{
		LabelCompanyID: companyID,
		LabelOperation: operation,
	}
}

func sanitize(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		k = sanitizeKey(k)
		if k == "" || v == "" {
			continue
		}
		if _, skip := highCardinality[k]; skip {
			continue
		}
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		out[k] = v
	}
	return out
}

// sanitizeKey lowercases and keeps [a-z0-9_], mapping anything else to '_'
func sanitizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
