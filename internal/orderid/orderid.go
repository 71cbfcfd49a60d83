// Package orderid generates pickup order identifiers of the form
// SAR-YYYYMMDD-XXXXXX. Identifiers sort lexically by creation date; the
// random suffix is best effort and the store reports any collision.
package orderid

import (
	"crypto/rand"
	"io"
	"math/big"
	"time"
)

const (
	Prefix       = "SAR"
	SuffixLength = 6
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generator builds identifiers from a clock and a random source.
type Generator struct {
	Now    func() time.Time
	Random io.Reader
}

var defaultGenerator = Generator{Now: time.Now, Random: rand.Reader}

// New returns a fresh identifier using the wall clock and crypto/rand.
func New() string {
	id, err := defaultGenerator.Next()
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return id
}

// Next returns the next identifier.
func (g Generator) Next() (string, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	src := g.Random
	if src == nil {
		src = rand.Reader
	}

	buf := make([]byte, 0, len(Prefix)+2+8+SuffixLength)
	buf = append(buf, Prefix...)
	buf = append(buf, '-')
	buf = now().UTC().AppendFormat(buf, "20060102")
	buf = append(buf, '-')

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < SuffixLength; i++ {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, alphabet[n.Int64()])
	}
	return string(buf), nil
}
