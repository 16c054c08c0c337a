package types

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890_-"

var ErrNoJoinCode = errors.New("url has no join code")

// RandomString returns n characters drawn uniformly from a URL-safe alphabet.
func RandomString(n int) (string, error) {
	limit := big.NewInt(int64(len(idAlphabet)))
	out := make([]byte, n)
	for i := range out {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = idAlphabet[num.Int64()]
	}
	return string(out), nil
}

// CodeFromURL extracts the room code from a shared game link such as
// https://example.com/?join=mcmp_abc.
func CodeFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing game url: %w", err)
	}
	code := u.Query().Get("join")
	if code == "" {
		return "", fmt.Errorf("%w: %s", ErrNoJoinCode, raw)
	}
	return code, nil
}
