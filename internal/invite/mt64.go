package invite

// mt64 is a 64-bit Mersenne Twister (std::mt19937_64 compatible). Invite
// codes generated by other tooling seed the same generator with the room id,
// so the constants and tempering below must not change.
type mt64 struct {
	state [mtNN]uint64
	index int
}

const (
	mtNN      = 312
	mtMM      = 156
	mtMatrixA = 0xB5026F5AA96619E9
	mtUpper   = 0xFFFFFFFF80000000 // most significant 33 bits
	mtLower   = 0x7FFFFFFF         // least significant 31 bits
)

func newMT64(seed uint64) *mt64 {
	m := &mt64{index: mtNN}
	m.state[0] = seed
	for i := uint64(1); i < mtNN; i++ {
		x := m.state[i-1]
		m.state[i] = 6364136223846793005*(x^(x>>62)) + i
	}
	return m
}

// next returns the next 64-bit draw.
func (m *mt64) next() uint64 {
	if m.index >= mtNN {
		m.twist()
	}

	x := m.state[m.index]
	m.index++

	x ^= (x >> 29) & 0x5555555555555555
	x ^= (x << 17) & 0x71D67FFFEDA60000
	x ^= (x << 37) & 0xFFF7EEE000000000
	x ^= x >> 43
	return x
}

func (m *mt64) twist() {
	var x uint64
	i := 0
	for ; i < mtNN-mtMM; i++ {
		x = (m.state[i] & mtUpper) | (m.state[i+1] & mtLower)
		m.state[i] = m.state[i+mtMM] ^ (x >> 1) ^ (mtMatrixA * (x & 1))
	}
	for ; i < mtNN-1; i++ {
		x = (m.state[i] & mtUpper) | (m.state[i+1] & mtLower)
		m.state[i] = m.state[i+mtMM-mtNN] ^ (x >> 1) ^ (mtMatrixA * (x & 1))
	}
	x = (m.state[mtNN-1] & mtUpper) | (m.state[0] & mtLower)
	m.state[mtNN-1] = m.state[mtMM-1] ^ (x >> 1) ^ (mtMatrixA * (x & 1))
	m.index = 0
}
