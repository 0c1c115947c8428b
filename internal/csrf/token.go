package csrf

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// MaskToken returns a one-time encoding of secret: base64(pad || secret^pad)
// with a fresh random pad, so the same secret never masks to the same value twice.
func MaskToken(secret string) (string, error) {
	raw := []byte(secret)
	buf := make([]byte, 2*len(raw))
	pad := buf[:len(raw)]
	if _, err := rand.Read(pad); err != nil {
		return "", err
	}
	for i, b := range raw {
		buf[len(raw)+i] = b ^ pad[i]
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// UnmaskToken reverses MaskToken. ok is false when masked is not valid
// base64 or cannot be split into equal pad and ciphertext halves.
func UnmaskToken(masked string) (secret string, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(masked)
	if err != nil || len(decoded) == 0 || len(decoded)%2 != 0 {
		return "", false
	}
	n := len(decoded) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = decoded[i] ^ decoded[n+i]
	}
	return string(out), true
}

// newTokenName returns prefix_ followed by a random unsigned 64-bit integer.
// Names only need to be unique; the secret carries the security.
func newTokenName(prefix string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return prefix + "_" + strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 10), nil
}

// newSecret returns strength random bytes, hex encoded.
func newSecret(strength int) (string, error) {
	b := make([]byte, strength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
