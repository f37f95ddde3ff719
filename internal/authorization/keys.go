package authorization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Key is one configured API key. Only a hash of the secret is retained:
// Hash for plain entries, encoded for argon2id entries.
type Key struct {
	Name string
	Role string
	Hash string

	encoded *argonHash
}

func (k Key) Subject() string {
	return "key:" + k.Name
}

func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// ParseAPIKeys reads API_KEYS entries in the form "name:role:key,...". The
// key may be an argon2id hash from EncodeAPIKey.
func ParseAPIKeys(raw string) ([]Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	seen := map[string]struct{}{}
	var keys []Key
	for _, entry := range splitEntries(raw) {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: expected name:role:key", ErrInvalidKeyEntry)
		}
		name := strings.TrimSpace(parts[0])
		role := strings.ToLower(strings.TrimSpace(parts[1]))
		secret := strings.TrimSpace(parts[2])
		if name == "" || secret == "" {
			return nil, fmt.Errorf("%w: empty name or key", ErrInvalidKeyEntry)
		}
		if role != RoleViewer && role != RoleOperator {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidKeyEntry, role)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidKeyEntry, name)
		}
		seen[name] = struct{}{}
		key := Key{Name: name, Role: role}
		if isEncodedKey(secret) {
			h, err := decodeArgonHash(secret)
			if err != nil {
				return nil, err
			}
			key.encoded = &h
		} else {
			key.Hash = HashAPIKey(secret)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// splitEntries splits on commas. Argon2id params contain commas, so a
// fragment without a colon continues the previous entry.
func splitEntries(raw string) []string {
	var entries []string
	for _, part := range strings.Split(raw, ",") {
		if len(entries) > 0 && !strings.Contains(part, ":") && isEncodedKey(secretOf(entries[len(entries)-1])) {
			entries[len(entries)-1] += "," + part
			continue
		}
		entries = append(entries, part)
	}
	out := entries[:0]
	for _, entry := range entries {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func secretOf(entry string) string {
	parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return strings.TrimSpace(parts[2])
}
