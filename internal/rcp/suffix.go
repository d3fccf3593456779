package rcp

import (
	"crypto/rand"
)

// suffixAlphabet is the character set used for partial-append sidecar
// filenames.
const suffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// suffixLength matches spec.md §6: "an 8-character random alphanumeric
// suffix".
const suffixLength = 8

// randomSuffix returns an 8-character random alphanumeric string
// sourced from a cryptographic RNG.
//
// spec.md's second Open Question (§9) flags that the original source
// seeds its filename suffix from wall-clock time, which is not
// collision-resistant; this implementation uses crypto/rand as the
// spec instructs instead.
func randomSuffix() (string, error) {
	raw := make([]byte, suffixLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, suffixLength)
	for i, b := range raw {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out), nil
}
