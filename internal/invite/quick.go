package invite

import (
	"strconv"
	"strings"
	"unicode"
)

// Detect is a fast format classifier for realtime input validation. It
// mirrors the cheap structural checks of Decode without building the full
// descriptor, and is deliberately more permissive: stray characters that the
// full Terracotta parse would reject are simply ignored here, so a paste
// with decorations still lights up as soon as 25 good digits are present.
func Detect(input string) Kind {
	// Terracotta: 25 alphabet digits with a matching checksum.
	var digits [codeDigits]int
	count := 0
	for _, r := range input {
		if count == codeDigits {
			break
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if d := base34Lookup(r); d >= 0 {
			digits[count] = d
			count++
		}
	}
	if count == codeDigits {
		sum := 0
		for _, d := range digits[:codeDigits-1] {
			sum += d
		}
		if sum%34 == digits[codeDigits-1] {
			return KindTerracotta
		}
	}

	// Compact form: value under threshold with a plausible decimal shape.
	// The port-zero corner is left to the full decode.
	s := strings.TrimSpace(input)
	if s == "" || len(s) > 10 {
		return KindInvalid
	}
	var value uint64
	for _, r := range s {
		v := pcl32Lookup(r)
		if v < 0 {
			return KindInvalid
		}
		value = value<<5 | uint64(v)
	}
	if value >= pclThreshold {
		return KindInvalid
	}
	switch len(strconv.FormatUint(value, 10)) {
	case 14:
		return KindPCL2CE
	case 15:
		if value%100_000 < 65_536 {
			return KindPCL2CE
		}
	}

	return KindInvalid
}
