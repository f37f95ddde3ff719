package actions

import "regexp"

var (
	alreadyCanceledPattern = regexp.MustCompile(`(?i)já está cancelad|ja esta cancelad`)
	alreadyPaidPattern     = regexp.MustCompile(`(?i)j[aá]\s*liquidad|already\s*paid`)
)

// IsAlreadyCanceled reports whether an upstream message says the invoice or
// transaction was canceled before.
func IsAlreadyCanceled(texts ...string) bool {
	return matchesAny(texts, alreadyCanceledPattern)
}

// IsAlreadyPaid reports whether an upstream message says the invoice was
// settled before. Spacing between the words is not significant.
func IsAlreadyPaid(texts ...string) bool {
	return matchesAny(texts, alreadyPaidPattern)
}

func matchesAny(texts []string, pattern *regexp.Regexp) bool {
	for _, text := range texts {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
