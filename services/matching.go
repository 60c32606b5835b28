package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/malwarebo/cashback/models"
)

const (
	DefaultSimilarityThreshold = 0.6

	// shorter normalized names only match by equality or similarity
	minContainedNameRunes = 3
)

// normalizeName lowercases, replaces punctuation with spaces and collapses whitespace.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// wordSimilarity is the Jaccard index of the two names' word sets.
func wordSimilarity(a, b string) float64 {
	left := wordSet(a)
	right := wordSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for w := range left {
		if _, ok := right[w]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func namesMatch(itemName, productName string, threshold float64) bool {
	if itemName == "" || productName == "" {
		return false
	}
	if itemName == productName {
		return true
	}
	if contains(itemName, productName) || contains(productName, itemName) {
		return true
	}
	return wordSimilarity(itemName, productName) >= threshold
}

func contains(haystack, needle string) bool {
	return utf8.RuneCountInString(needle) >= minContainedNameRunes && strings.Contains(haystack, needle)
}

// matchProduct finds the first eligible product for the receipt line,
// preferring an exact SKU match over any name match.
func matchProduct(item models.ReceiptItem, products []models.Product, threshold float64) (models.Product, bool) {
	code := strings.TrimSpace(item.ProductCode)
	if code != "" {
		for _, p := range products {
			if sku := strings.TrimSpace(p.SKU); sku != "" && sku == code {
				return p, true
			}
		}
	}

	itemName := normalizeName(item.Name)
	for _, p := range products {
		if namesMatch(itemName, normalizeName(p.Name), threshold) {
			return p, true
		}
	}
	return models.Product{}, false
}
