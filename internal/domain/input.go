package domain

import "unicode/utf8"

// Column limits of the owner and idempotency_key columns.
const (
	MaxOwnerLen          = 128
	MaxIdempotencyKeyLen = 128
)

// CheckOwner rejects an empty owner or one longer than MaxOwnerLen
// characters.
func CheckOwner(owner string) error {
	if owner == "" {
		return Validationf("owner is required")
	}
	if n := utf8.RuneCountInString(owner); n > MaxOwnerLen {
		return Validationf("owner is %d characters, limit is %d", n, MaxOwnerLen)
	}
	return nil
}

// CheckIdempotencyKey rejects a key longer than MaxIdempotencyKeyLen
// characters. Emptiness is left to the caller.
func CheckIdempotencyKey(key string) error {
	if n := utf8.RuneCountInString(key); n > MaxIdempotencyKeyLen {
		return Validationf("idempotency key is %d characters, limit is %d", n, MaxIdempotencyKeyLen)
	}
	return nil
}
