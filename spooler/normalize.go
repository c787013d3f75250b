package spooler

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	digitsRe     = regexp.MustCompile(`^\d+$`)
	accessKeyRe  = regexp.MustCompile(`^\d{44}$`)
	datePrefixRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ]`)
)

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ContentHash is the SHA-256 hex digest of the exact source bytes.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeDate reduces a fiscal date or date-time to YYYY-MM-DD. A valid
// calendar date followed by T or a space keeps just that date, whatever the
// time and offset look like. Values with no parseable date are returned
// trimmed but otherwise unchanged so validation can reject them.
func NormalizeDate(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	if m := datePrefixRe.FindStringSubmatch(s); m != nil {
		if _, err := time.Parse("2006-01-02", m[1]); err == nil {
			return m[1]
		}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	return s
}

// ParseDecimal reads a monetary or quantity field. Empty input is zero.
func ParseDecimal(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return decimal.Zero, nil
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}

// NormalizeAccessKey strips whitespace and returns "" unless the result is
// exactly 44 digits.
func NormalizeAccessKey(input string) string {
	s := strings.Join(strings.Fields(input), "")
	if !accessKeyRe.MatchString(s) {
		return ""
	}
	return s
}

func isDigits(s string) bool {
	return digitsRe.MatchString(s)
}
