package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureManifest(t *testing.T) {
	assert.Equal(t, "id:abc123;request-id:req-1;ts:1700000000;", SignatureManifest("ABC123", "req-1", "1700000000"))
	assert.Equal(t, "ts:1;", SignatureManifest("", "", "1"))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec"
	v1 := Sign(secret, SignatureManifest("123", "req-1", "1700000000"))
	header := "ts=1700000000,v1=" + v1

	assert.NoError(t, VerifySignature(secret, header, "req-1", "123"))
	assert.ErrorIs(t, VerifySignature(secret, header, "req-2", "123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", header, "req-1", "123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, "v1="+v1, "req-1", "123"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, "", "req-1", "123"), ErrInvalidSignature)
}
