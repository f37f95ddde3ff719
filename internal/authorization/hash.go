package authorization

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	argonPrefix = "$argon2id$"
)

type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	sum     []byte
}

// EncodeAPIKey returns the Argon2id form of a secret, accepted in API_KEYS
// in place of the plain key.
func EncodeAPIKey(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(strings.TrimSpace(secret)), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("%sv=19$m=%d,t=%d,p=%d$%s$%s", argonPrefix, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(sum)), nil
}

func isEncodedKey(s string) bool {
	return strings.HasPrefix(s, argonPrefix)
}

func decodeArgonHash(encoded string) (argonHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return argonHash{}, fmt.Errorf("%w: malformed argon2id hash", ErrInvalidKeyEntry)
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return argonHash{}, fmt.Errorf("%w: malformed argon2id params", ErrInvalidKeyEntry)
	}
	var values [3]uint64
	for i, prefix := range []string{"m=", "t=", "p="} {
		raw, ok := strings.CutPrefix(params[i], prefix)
		if !ok {
			return argonHash{}, fmt.Errorf("%w: malformed argon2id params", ErrInvalidKeyEntry)
		}
		bits := 32
		if prefix == "p=" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return argonHash{}, fmt.Errorf("%w: malformed argon2id params", ErrInvalidKeyEntry)
		}
		values[i] = v
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonHash{}, fmt.Errorf("%w: malformed argon2id salt", ErrInvalidKeyEntry)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(sum) == 0 {
		return argonHash{}, fmt.Errorf("%w: malformed argon2id hash", ErrInvalidKeyEntry)
	}

	return argonHash{
		memory:  uint32(values[0]),
		time:    uint32(values[1]),
		threads: uint8(values[2]),
		salt:    salt,
		sum:     sum,
	}, nil
}

func (h argonHash) matches(secret string) bool {
	check := argon2.IDKey([]byte(secret), h.salt, h.time, h.memory, h.threads, uint32(len(h.sum)))
	return subtle.ConstantTimeCompare(h.sum, check) == 1
}
