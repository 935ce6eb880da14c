package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	pepper := []byte("pepper")

	h1 := HashKey(pepper, "key-one")
	assert.Len(t, h1, 64, "hex-encoded SHA-256 digest")
	assert.Equal(t, h1, HashKey(pepper, "key-one"), "hashing is deterministic")
	assert.NotEqual(t, h1, HashKey(pepper, "key-two"))
	assert.NotEqual(t, h1, HashKey([]byte("other"), "key-one"), "pepper changes the digest")
}

func TestHasScope(t *testing.T) {
	k := &APIKeyInfo{Scopes: []string{"orders", "coupons"}}

	assert.True(t, k.HasScope("orders"))
	assert.False(t, k.HasScope("products"))
	assert.False(t, (&APIKeyInfo{}).HasScope("orders"))
}
