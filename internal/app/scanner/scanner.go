// Package scanner scores conversation text against known off-platform scam
// patterns for the admin monitoring overlay. It is a keyword heuristic, not a
// guarantee: false positives and false negatives are expected, and the result
// is a triage signal for human moderators, never an automatic sanction.
package scanner

import "strings"

// Level is the risk classification of a piece of text.
type Level string

const (
	LevelSafe    Level = "safe"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// riskKeywords are case-insensitive substrings associated with off-platform
// payment or off-platform contact scams seen on the marketplace.
var riskKeywords = []string{
	"western union",
	"moneygram",
	"virement",
	"mandat cash",
	"coupon pcs",
	"transcash",
	"paysafecard",
	"urgent",
	"urgence",
	"whatsapp",
	"telegram",
	"hors du site",
	"hors site",
	"paiement d'avance",
	"frais de livraison a l'avance",
	"mon transporteur",
	"huissier",
}

// Classify scores text by counting keyword matches k: k>2 is danger, 0<k<=2 is
// warning, k==0 is safe. Stateless; callers run it on the latest message
// preview only.
func Classify(text string) Level {
	k := MatchCount(text)
	switch {
	case k > 2:
		return LevelDanger
	case k > 0:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// MatchCount returns how many risk keywords occur in text.
func MatchCount(text string) int {
	lowered := strings.ToLower(text)
	count := 0
	for _, keyword := range riskKeywords {
		if strings.Contains(lowered, keyword) {
			count++
		}
	}
	return count
}
