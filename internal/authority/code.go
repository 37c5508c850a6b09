package authority

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const reclaimCodeDigits = 6

// newReclaimCode draws a zero-padded 6-digit code. Short enough to read
// back over voice, random enough that guessing another participant's code
// is not practical within the contest window.
func newReclaimCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < reclaimCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", reclaimCodeDigits, n), nil
}
