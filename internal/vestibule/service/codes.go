package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/store"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 8
	maxCodeAttempts = 16
)

var errCodeSpaceExhausted = errors.New("could not generate an unused code")

// CodeGenerator returns a candidate code.  Uniqueness is checked by the
// caller.
type CodeGenerator func() (string, error)

// RandomCode draws codeLength characters from [A-Z0-9] using crypto/rand.
func RandomCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// codeSource hands out codes that are unused in the store and distinct from
// every code it issued earlier in the same transaction.
type codeSource struct {
	gen   CodeGenerator
	tx    store.Tx
	taken map[string]struct{}
}

func newCodeSource(gen CodeGenerator, tx store.Tx) *codeSource {
	return &codeSource{gen: gen, tx: tx, taken: make(map[string]struct{})}
}

func (c *codeSource) next(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := c.gen()
		if err != nil {
			return "", err
		}
		if _, dup := c.taken[code]; dup {
			continue
		}
		used, err := c.tx.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if used {
			continue
		}
		c.taken[code] = struct{}{}
		return code, nil
	}
	return "", errCodeSpaceExhausted
}
