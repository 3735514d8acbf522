package invite

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMT64KnownAnswers pins the generator to the reference implementation.
// Both values are published vectors for a generator seeded with 5489: the
// first draw, and the 10000th draw (the C++ standard's check value for a
// default-constructed mt19937_64).
func TestMT64KnownAnswers(t *testing.T) {
	rng := newMT64(5489)

	first := rng.next()
	if first != 14514284786278117030 {
		t.Fatalf("first draw: got %d, want 14514284786278117030", first)
	}

	var v uint64
	for i := 1; i < 10000; i++ {
		v = rng.next()
	}
	if v != 9981545732273789042 {
		t.Fatalf("10000th draw: got %d, want 9981545732273789042", v)
	}
}

// TestEncodeDecodeRoundTrip sweeps every port with a deterministic room id
// seed and verifies the decoded descriptor reproduces the port, the kind,
// and the name/secret derivation rule.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for port := 1; port <= 65535; port++ {
		code := encodeSeeded(port, uint64(port)*0x9E3779B97F4A7C15)

		r := Decode(code)
		if r.Kind != KindTerracotta {
			t.Fatalf("port %d: kind = %v, want terracotta (code %q)", port, r.Kind, code)
		}
		if r.Port != port {
			t.Fatalf("port %d: decoded port = %d (code %q)", port, r.Port, code)
		}

		if port%4093 == 0 {
			// Spot-check the string derivations against the code text itself.
			stripped := strings.ReplaceAll(code, "-", "")
			wantName := "terracotta-mc-" + strings.ToLower(stripped[:15])
			wantSecret := strings.ToLower(stripped[15:])
			if r.Name != wantName {
				t.Fatalf("port %d: name = %q, want %q", port, r.Name, wantName)
			}
			if r.Secret != wantSecret {
				t.Fatalf("port %d: secret = %q, want %q", port, r.Secret, wantSecret)
			}
			if r.ID >= 1<<48 {
				t.Fatalf("port %d: room id %d exceeds 48 bits", port, r.ID)
			}
		}
	}
}

// TestEncodeRandomRoomID exercises the public entry point once per call to
// make sure the crypto/rand path and the grouping are wired.
func TestEncodeRandomRoomID(t *testing.T) {
	code, err := Encode(25565)
	require.NoError(t, err)
	require.Len(t, code, 29)
	require.Equal(t, 4, strings.Count(code, "-"))

	r := Decode(code)
	require.Equal(t, KindTerracotta, r.Kind)
	require.Equal(t, 25565, r.Port)
}

func TestEncodePortRange(t *testing.T) {
	for _, port := range []int{-1, 65536, 1 << 20} {
		if _, err := Encode(port); !errors.Is(err, ErrPortRange) {
			t.Errorf("Encode(%d): err = %v, want ErrPortRange", port, err)
		}
	}
}

// Hand-computed Terracotta vectors. With every value digit equal, the low 16
// bits of the reconstructed integer can be derived on paper from the powers
// of 34 mod 2^16 (34^16 and above vanish, and the checksum term at 34^24 is
// divisible by 2^16).
func TestDecodeTerracottaVectors(t *testing.T) {
	testCases := []struct {
		name string
		code string
		port int
	}{
		{
			// 24 digits of value 2, checksum 48 mod 34 = 14 = 'E'.
			name: "all twos",
			code: "22222-22222-22222-22222-2222E",
			port: 63550,
		},
		{
			// Digits alternate 1,0 from position 0; checksum 12 = 'C'.
			name: "alternating one zero",
			code: "10101-01010-10101-01010-1010C",
			port: 38357,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := Decode(tc.code)
			require.Equal(t, KindTerracotta, r.Kind)
			require.Equal(t, tc.port, r.Port)

			stripped := strings.ReplaceAll(tc.code, "-", "")
			require.Equal(t, "terracotta-mc-"+strings.ToLower(stripped[:15]), r.Name)
			require.Equal(t, strings.ToLower(stripped[15:]), r.Secret)
		})
	}
}

// TestDecodeTerracottaTolerance verifies the input normalizations: casing,
// I/O substitution, and separator/whitespace noise must not change the
// decoded descriptor.
func TestDecodeTerracottaTolerance(t *testing.T) {
	canonical := "10101-01010-10101-01010-1010C"
	want := Decode(canonical)
	require.Equal(t, KindTerracotta, want.Kind)

	variants := map[string]string{
		"lowercase":        strings.ToLower(canonical),
		"I and O glyphs":   "IOIOI-OIOIO-IOIOI-OIOIO-IOIOC",
		"lowercase glyphs": "ioioi-oioio-ioioi-oioio-ioioc",
		"no separators":    strings.ReplaceAll(canonical, "-", ""),
		"noisy separators": " 10101 _01010++10101//01010\t1010C ",
	}
	for name, in := range variants {
		if got := Decode(in); got != want {
			t.Errorf("%s: got %+v, want %+v", name, got, want)
		}
	}

	// Same normalizations on generated codes with arbitrary seeds.
	for seed := uint64(1); seed <= 50; seed++ {
		code := encodeSeeded(40000, seed*seed*0xDEADBEEF+seed)
		want := Decode(code)

		folded := strings.ReplaceAll(code, "1", "I")
		folded = strings.ReplaceAll(folded, "0", "O")
		if got := Decode(strings.ToLower(folded)); got != want {
			t.Fatalf("seed %d: folded decode mismatch (code %q)", seed, code)
		}
	}
}

// TestDecodeTerracottaChecksum mutates each of the 25 digits of a valid code
// in turn; every single-digit substitution must be rejected.
func TestDecodeTerracottaChecksum(t *testing.T) {
	code := strings.ReplaceAll(encodeSeeded(31337, 0xC0FFEE), "-", "")

	for i := 0; i < len(code); i++ {
		d := strings.IndexByte(base34Alphabet, code[i])
		if d < 0 {
			t.Fatalf("position %d: %q not in alphabet", i, code[i])
		}
		mutated := []byte(code)
		mutated[i] = base34Alphabet[(d+1)%34]

		if r := Decode(string(mutated)); r.Kind != KindInvalid {
			t.Errorf("mutation at %d: kind = %v, want invalid", i, r.Kind)
		}
	}
}

// Compact vectors, hand-encoded in base-32.
func TestDecodeCompact(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		kind   Kind
		port   int
		lobby  string // network name, when valid
		secret string
	}{
		{
			// Value 10000000012345: 14 decimal digits, port = mod 10000.
			name:   "fourteen digit value",
			input:  "B53997N3T",
			kind:   KindPCL2CE,
			port:   2345,
			lobby:  "PCLCELobby10000000",
			secret: "PCLCEETLOBBY202501",
		},
		{
			name:   "lowercase input",
			input:  "b53997n3t",
			kind:   KindPCL2CE,
			port:   2345,
			lobby:  "PCLCELobby10000000",
			secret: "PCLCEETLOBBY202501",
		},
		{
			// Value 100000000065535: 15 decimal digits, remainder 65535 is
			// the highest accepted port.
			name:   "port boundary accepted",
			input:  "4UYEA9QHZZ",
			kind:   KindPCL2CE,
			port:   65535,
			lobby:  "PCLCELobby10000000",
			secret: "PCLCEETLOBBY202500",
		},
		{
			// Value 100000000065536: remainder 65536 exceeds 16 bits.
			name:  "port boundary rejected",
			input: "4UYEA9QJ22",
			kind:  KindInvalid,
		},
		{
			// Value 10000000010000: decodes but carries port 0.
			name:  "port zero rejected",
			input: "B53997KSJ",
			kind:  KindInvalid,
		},
		{
			// 32^10-1 is far above the acceptance threshold.
			name:  "threshold rejected",
			input: "ZZZZZZZZZZ",
			kind:  KindInvalid,
		},
		{
			name:  "too long",
			input: "B53997N3T22",
			kind:  KindInvalid,
		},
		{
			name:  "wrong decimal length",
			input: "2345",
			kind:  KindInvalid,
		},
		{
			name:  "out of alphabet",
			input: "B53997N30",
			kind:  KindInvalid,
		},
		{
			name:  "embedded punctuation",
			input: "B5399,7N3T",
			kind:  KindInvalid,
		},
		{
			name:  "empty",
			input: "",
			kind:  KindInvalid,
		},
		{
			name:   "surrounding whitespace",
			input:  "  B53997N3T\n",
			kind:   KindPCL2CE,
			port:   2345,
			lobby:  "PCLCELobby10000000",
			secret: "PCLCEETLOBBY202501",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := Decode(tc.input)
			require.Equal(t, tc.kind, r.Kind)
			if tc.kind == KindInvalid {
				require.False(t, r.Valid())
				return
			}
			require.Equal(t, tc.port, r.Port)
			require.Equal(t, tc.lobby, r.Name)
			require.Equal(t, tc.secret, r.Secret)
			require.EqualValues(t, 0, r.ID)
		})
	}
}

// TestGrammarPrecedence checks that short inputs made of shared characters
// fall through Terracotta (needs 25 digits) into the compact grammar.
func TestGrammarPrecedence(t *testing.T) {
	r := Decode("B53997N3T")
	if r.Kind != KindPCL2CE {
		t.Fatalf("kind = %v, want pcl2ce", r.Kind)
	}
}

func TestDetect(t *testing.T) {
	valid := encodeSeeded(25565, 7)

	testCases := []struct {
		name  string
		input string
		want  Kind
	}{
		{"terracotta", valid, KindTerracotta},
		{"terracotta partial", valid[:12], KindInvalid},
		{"terracotta bad checksum", "22222-22222-22222-22222-22222", KindInvalid},
		{"compact", "B53997N3T", KindPCL2CE},
		{"compact port zero tolerated", "B53997KSJ", KindPCL2CE},
		{"compact threshold", "ZZZZZZZZZZ", KindInvalid},
		{"garbage", "not a code", KindInvalid},
		{"empty", "", KindInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.input); got != tc.want {
				t.Errorf("Detect(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
