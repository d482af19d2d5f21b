package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Verdict is the structured output of content analysis. Immutable;
// produced once per capture context and cacheable by fingerprint.
type Verdict struct {
	Category    Category  `json:"category"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
	Keywords    []string  `json:"keywords,omitempty"`
	AgeBand     AgeGroup  `json:"age_band,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at"`

	// Fallback marks a verdict synthesized locally because the
	// analysis collaborator failed or timed out.
	Fallback bool `json:"fallback,omitempty"`
}

// FallbackVerdict is the conservative verdict used when analysis is
// unavailable. Failing open is disallowed: an unreachable analyzer must
// never mean "allow everything".
func FallbackVerdict(now time.Time) Verdict {
	return Verdict{
		Category:    CategoryConcerning,
		Confidence:  0.0,
		Explanation: "analysis unavailable",
		AnalyzedAt:  now,
		Fallback:    true,
	}
}

// NormalizeText canonicalizes input text for fingerprinting: case-fold
// and whitespace-collapse. Exact-normalized keying avoids cache hits
// masking genuinely new content.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint keys the verdict cache. Image-less contexts hash the
// literal "no-image" marker so text-only and multimodal analyses of the
// same text never collide.
func Fingerprint(text string, image []byte, profile Profile) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	if len(image) > 0 {
		ih := sha256.Sum256(image)
		h.Write(ih[:])
	} else {
		h.Write([]byte("no-image"))
	}
	h.Write([]byte{0})
	h.Write([]byte(profile.AgeGroup))
	h.Write([]byte{0})
	h.Write([]byte(profile.Strictness))
	return hex.EncodeToString(h.Sum(nil))
}
