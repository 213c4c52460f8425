// Package masking redacts payment and account identifiers before they land
// in audit metadata. Back-office credits often carry gateway references
// (pix transaction ids, card tokens, API keys) that auditors need to
// correlate but must not read in full.
package masking

import "strings"

const (
	maskToken  = "****"
	keepSuffix = 4
)

// MaskSecret redacts a secret while keeping enough of it to correlate audit
// entries: the scheme prefix up to the last underscore (sk_live_, pix_, ...)
// and the final four characters survive, everything in between is replaced.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix := ""
	remainder := trimmed
	if cut := strings.LastIndex(trimmed, "_"); cut >= 0 && cut < len(trimmed)-1 {
		prefix = trimmed[:cut+1]
		remainder = trimmed[cut+1:]
	}

	if len(remainder) <= keepSuffix {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-keepSuffix:]
}

// MaskJSON walks arbitrary request metadata and masks every string value,
// recursing through nested objects and lists. Keys are kept readable so the
// audit trail still shows what was supplied. Empty input collapses to nil so
// no empty metadata blobs are stored.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	}
	// Numbers and booleans carry amounts and flags auditors need verbatim.
	return value
}
