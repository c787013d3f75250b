package spooler

import "regexp"

var (
	cnpjRe = regexp.MustCompile(`^\d{14}$`)
	cpfRe  = regexp.MustCompile(`^\d{11}$`)

	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ checks the 14-digit format and both modulo-11 check digits.
func ValidCNPJ(s string) bool {
	if !cnpjRe.MatchString(s) {
		return false
	}
	d := digitsOf(s)
	if allSame(d) {
		return false
	}
	return checkDigit(d[:12], cnpjWeights1) == d[12] &&
		checkDigit(d[:13], cnpjWeights2) == d[13]
}

// ValidCPF checks the 11-digit format, rejects repeated-digit numbers and
// verifies both check digits with weights 10..2 and 11..2.
func ValidCPF(s string) bool {
	if !cpfRe.MatchString(s) {
		return false
	}
	d := digitsOf(s)
	if allSame(d) {
		return false
	}
	return checkDigit(d[:9], descendingWeights(10)) == d[9] &&
		checkDigit(d[:10], descendingWeights(11)) == d[10]
}

func checkDigit(digits []int, weights []int) int {
	sum := 0
	for i, v := range digits {
		sum += v * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func descendingWeights(from int) []int {
	out := make([]int, 0, from-1)
	for w := from; w >= 2; w-- {
		out = append(out, w)
	}
	return out
}

func digitsOf(s string) []int {
	out := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = int(s[i] - '0')
	}
	return out
}

func allSame(d []int) bool {
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}
