// Package transform turns plugin drafts into canonical ledger records and
// derives the stable identifiers they are stored under.
package transform

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars    = regexp.MustCompile(`[^a-z0-9]+`)
	nonAccountChars = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// SlugifyInstitution converts institution name to a URL-safe slug.
// Examples: "American Express" → "american-express", "PNC Bank" → "pnc-bank"
func SlugifyInstitution(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("institution name cannot be empty")
	}

	// Strip accents (é → e) before slugging
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize institution name %q: %w", name, err)
	}

	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(normalized), "-"), "-")
	if slug == "" {
		return "", fmt.Errorf("institution name %q contains no alphanumeric characters", name)
	}
	return slug, nil
}

// CleanAccountNumber removes separators and masking characters.
// Example: "XXXX-XXXX-1234" → "XXXXXXXX1234", "12 34-56" → "123456"
func CleanAccountNumber(number string) string {
	return nonAccountChars.ReplaceAllString(number, "")
}

// ExtractLast4 returns the last 4 characters of the account number.
// If the account number has fewer than 4 characters, returns the full number.
// Examples: "12345" → "2345", "123" → "123", "" → ""
func ExtractLast4(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

// MaskAccountNumber hides all but the last four characters.
// Examples: "1234567890" → "****7890", "123" → "****123"
func MaskAccountNumber(accountNumber string) string {
	clean := CleanAccountNumber(accountNumber)
	if clean == "" {
		return ""
	}
	return "****" + ExtractLast4(clean)
}

// GenerateAccountID creates a deterministic account ID.
// Format: "acc-{institutionSlug}-{last4}"
// Common institution slugs are abbreviated (see abbreviateSlug).
// Example: GenerateAccountID("bank-of-america", "5678") → "acc-boa-5678"
func GenerateAccountID(institutionSlug, accountNumber string) string {
	last4 := strings.ToLower(ExtractLast4(CleanAccountNumber(accountNumber)))
	return fmt.Sprintf("acc-%s-%s", abbreviateSlug(institutionSlug), last4)
}

var slugAbbreviations = map[string]string{
	"american-express": "amex",
	"bank-of-america":  "boa",
	"capital-one":      "c1",
	"citibank":         "citi",
}

// abbreviateSlug creates shorter versions of common institution names
func abbreviateSlug(slug string) string {
	if abbrev, ok := slugAbbreviations[slug]; ok {
		return abbrev
	}
	return slug
}

// GenerateStatementID creates a deterministic statement ID.
// Format: "stmt-YYYY-MM-{accountID}-{fingerprint[:8]}"
// The fingerprint suffix keeps a corrected statement for the same month
// distinct from the one it supersedes.
func GenerateStatementID(periodStart time.Time, accountID, fingerprint string) string {
	short := fingerprint
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("stmt-%04d-%02d-%s-%s", periodStart.Year(), periodStart.Month(), accountID, short)
}

// GenerateTransactionID numbers a transaction within its statement, 1-based.
// Example: GenerateTransactionID("stmt-2025-01-acc-pnc-1234-ab12cd34", 0) → "stmt-2025-01-acc-pnc-1234-ab12cd34-t001"
func GenerateTransactionID(statementID string, index int) string {
	return fmt.Sprintf("%s-t%03d", statementID, index+1)
}

// NormalizeDescription composes unicode (NFC) and collapses whitespace runs
// to single spaces.
func NormalizeDescription(desc string) string {
	return strings.Join(strings.Fields(norm.NFC.String(desc)), " ")
}
