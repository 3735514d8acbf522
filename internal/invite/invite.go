// Package invite implements the invite-code codec used to join a room.
//
// Two grammars are supported and tried in fixed order: Terracotta (25
// checksummed base-34 digits, usually grouped in fives by dashes) and the
// PCL CE compact form (1..10 base-32 digits, no checksum). Both formats
// predate this codebase and are shared with other tooling, so every constant
// here is wire-compatible and must not drift.
package invite

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

// Kind identifies which grammar an invite code matched.
type Kind int

const (
	KindInvalid Kind = iota
	KindTerracotta
	KindPCL2CE
)

func (k Kind) String() string {
	switch k {
	case KindTerracotta:
		return "terracotta"
	case KindPCL2CE:
		return "pcl2ce"
	default:
		return "invalid"
	}
}

// Room is the decoded descriptor of a joinable room. It is constructed only
// by Decode and carries everything the tunnel layer needs: the shared port
// and the derived network identity/credential pair.
type Room struct {
	ID     uint64 // 48-bit opaque room identifier (Terracotta only, zero otherwise)
	Port   int
	Name   string // tunnel network identity
	Secret string // tunnel network credential
	Kind   Kind
}

// Valid reports whether the descriptor came from a successful decode.
func (r Room) Valid() bool {
	return r.Kind != KindInvalid
}

// ErrPortRange reports an Encode request outside the 16-bit port range.
var ErrPortRange = errors.New("invite: port out of range")

// ErrInvalidCode reports input that matches neither invite grammar.
var ErrInvalidCode = errors.New("invite: invalid code")

// ---------------------------------------------------------------------------
// Terracotta
// ---------------------------------------------------------------------------

// base34Alphabet is the Terracotta digit set: 0-9 plus uppercase letters
// without I and O. Lookups fold I to 1 and O to 0.
const base34Alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	codeDigits = 25 // 24 value digits + 1 checksum digit
	groupSize  = 5
)

var big34 = big.NewInt(34)

// Encode produces a Terracotta invite code for the given port. The room id
// is drawn from crypto/rand; everything else is deterministic.
func Encode(port int) (string, error) {
	if port < 0 || port > 0xFFFF {
		return "", fmt.Errorf("%w: %d", ErrPortRange, port)
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("invite: room id entropy: %w", err)
	}

	return encodeSeeded(port, binary.BigEndian.Uint64(seed[:])), nil
}

// encodeSeeded is the deterministic core of Encode: 15 bytes are drawn from
// a Mersenne Twister seeded with roomID (low byte of each 64-bit draw), the
// last two bytes are overwritten with the big-endian port, and the resulting
// 120-bit integer is written out as 24 base-34 digits (least significant
// first) followed by a mod-34 digit-sum checksum.
func encodeSeeded(port int, roomID uint64) string {
	var buf [15]byte
	rng := newMT64(roomID)
	for i := range buf {
		buf[i] = byte(rng.next())
	}
	binary.BigEndian.PutUint16(buf[13:], uint16(port))

	value := new(big.Int).SetBytes(buf[:])
	rem := new(big.Int)

	digits := make([]byte, codeDigits)
	checksum := 0
	for i := 0; i < codeDigits-1; i++ {
		value.QuoRem(value, big34, rem)
		d := int(rem.Int64())
		digits[i] = base34Alphabet[d]
		checksum = (checksum + d) % 34
	}
	digits[codeDigits-1] = base34Alphabet[checksum]

	var out strings.Builder
	out.Grow(codeDigits + codeDigits/groupSize - 1)
	for i, c := range digits {
		if i > 0 && i%groupSize == 0 {
			out.WriteByte('-')
		}
		out.WriteByte(c)
	}
	return out.String()
}

// decodeTerracotta parses the 25-digit checksummed grammar. Non-alphanumeric
// runes (separators, whitespace) are skipped; alphanumeric runes outside the
// alphabet reject the input outright.
func decodeTerracotta(input string) (Room, bool) {
	digits := make([]int, 0, codeDigits)
	for _, r := range input {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		d := base34Lookup(r)
		if d < 0 {
			return Room{}, false
		}
		digits = append(digits, d)
	}
	if len(digits) != codeDigits {
		return Room{}, false
	}

	checksum := 0
	for _, d := range digits[:codeDigits-1] {
		checksum += d
	}
	if checksum%34 != digits[codeDigits-1] {
		return Room{}, false
	}

	// Reconstruct the numeric value from all 25 digits, checksum included as
	// the highest place. That is how the legacy decoder works: only the low
	// 64 bits are consumed, and 34^24 is divisible by 2^16, so the checksum
	// term never disturbs the port in the low 16 bits.
	total := new(big.Int)
	digit := new(big.Int)
	for i := codeDigits - 1; i >= 0; i-- {
		total.Mul(total, big34)
		total.Add(total, digit.SetInt64(int64(digits[i])))
	}
	low64 := low64of(total)

	port := int(low64 & 0xFFFF)
	if port == 0 {
		return Room{}, false
	}

	var name, secret strings.Builder
	for _, d := range digits[:15] {
		name.WriteByte(base34Alphabet[d])
	}
	for _, d := range digits[15:] {
		secret.WriteByte(base34Alphabet[d])
	}

	return Room{
		ID:     low64 >> 16,
		Port:   port,
		Name:   "terracotta-mc-" + strings.ToLower(name.String()),
		Secret: strings.ToLower(secret.String()),
		Kind:   KindTerracotta,
	}, true
}

// base34Lookup maps a rune to its Terracotta digit, or -1 if it is not part
// of the alphabet. Case-insensitive; I and O fold to 1 and 0.
func base34Lookup(r rune) int {
	u := unicode.ToUpper(r)
	switch u {
	case 'I':
		u = '1'
	case 'O':
		u = '0'
	}
	return strings.IndexRune(base34Alphabet, u)
}

// low64of returns the low 64 bits of a non-negative big integer.
func low64of(v *big.Int) uint64 {
	b := v.Bytes()
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var out uint64
	for _, c := range b {
		out = out<<8 | uint64(c)
	}
	return out
}

// ---------------------------------------------------------------------------
// PCL CE compact form
// ---------------------------------------------------------------------------

const (
	// pclThreshold is the exclusive upper bound on a compact code's numeric
	// value; anything at or above it is rejected before the length checks.
	pclThreshold uint64 = 999_999_999_965_536

	pclNamePrefix   = "PCLCELobby"
	pclSecretPrefix = "PCLCEETLOBBY2025"
)

// decodePCL2CE parses the compact grammar: up to 10 base-32 characters read
// MSB-first into an integer whose decimal representation carries the lobby
// digits and the port.
func decodePCL2CE(input string) (Room, bool) {
	s := strings.TrimSpace(input)
	if s == "" || len(s) > 10 {
		return Room{}, false
	}

	var value uint64
	for _, r := range s {
		v := pcl32Lookup(r)
		if v < 0 {
			return Room{}, false
		}
		value = value<<5 | uint64(v)
	}
	if value >= pclThreshold {
		return Room{}, false
	}

	dec := strconv.FormatUint(value, 10)
	var port uint64
	switch len(dec) {
	case 14:
		port = value % 10_000
	case 15:
		port = value % 100_000
		if port >= 65_536 {
			return Room{}, false
		}
	default:
		return Room{}, false
	}
	if port == 0 {
		return Room{}, false
	}

	return Room{
		Port:   int(port),
		Name:   pclNamePrefix + dec[:8],
		Secret: pclSecretPrefix + dec[8:10],
		Kind:   KindPCL2CE,
	}, true
}

// pcl32Lookup maps a rune to its compact-form digit, or -1 if invalid.
// The set is Crockford-like: digits 2-9 then letters skipping I and O.
func pcl32Lookup(r rune) int {
	u := unicode.ToUpper(r)
	switch {
	case u >= '2' && u <= '9':
		return int(u - '2') // 0..7
	case u >= 'A' && u <= 'H':
		return int(u-'A') + 8 // 8..15
	case u >= 'J' && u <= 'N':
		return int(u-'J') + 16 // 16..20
	case u >= 'P' && u <= 'Z':
		return int(u-'P') + 21 // 21..31
	default:
		return -1
	}
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

// Decode parses an invite code in either grammar: Terracotta first, then the
// compact form, first match wins. Input matching neither returns a Room with
// KindInvalid. Decode never fails loudly; malformed input is an expected
// condition while a user is typing.
func Decode(input string) Room {
	if r, ok := decodeTerracotta(input); ok {
		return r
	}
	if r, ok := decodePCL2CE(input); ok {
		return r
	}
	return Room{Kind: KindInvalid}
}
