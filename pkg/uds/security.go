package uds

import (
	"crypto/aes"
	"fmt"
	"strconv"

	"github.com/chmike/cmac-go"
	"github.com/roffe/curf"
)

// KeyFromSeed is the demonstration security access algorithm, the key is seed + c1 + c2
// rendered as 4 big endian bytes in lowercase hex. Real targets need their own algorithm.
func KeyFromSeed(seed, c1, c2 string) (string, error) {
	var sum uint64
	for _, v := range []struct{ name, value string }{{"seed", seed}, {"constant 1", c1}, {"constant 2", c2}} {
		n, err := strconv.ParseUint(curf.NormalizeHex(v.value), 16, 32)
		if err != nil {
			return "", &curf.ConfigurationError{Field: v.name, Value: v.value, Reason: "not a 32 bit hex value", Err: err}
		}
		sum += n
	}
	if sum > 0xFFFFFFFF {
		return "", fmt.Errorf("key 0x%X does not fit in 4 bytes", sum)
	}
	return fmt.Sprintf("%08x", sum), nil
}

// CMACKey computes the AES-CMAC of seed under secret, secret must be 16, 24 or 32 bytes
func CMACKey(secret, seed []byte) ([]byte, error) {
	cm, err := cmac.New(aes.NewCipher, secret)
	if err != nil {
		return nil, fmt.Errorf("cmac: %w", err)
	}
	if _, err := cm.Write(seed); err != nil {
		return nil, err
	}
	return cm.Sum(nil), nil
}
