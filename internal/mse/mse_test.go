package mse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffieHellmanSharedSecretMatches(t *testing.T) {
	r := require.New(t)

	a, err := NewKeyPair()
	r.NoError(err)
	b, err := NewKeyPair()
	r.NoError(err)

	sa := a.SharedSecret(b.Pub[:])
	sb := b.SharedSecret(a.Pub[:])
	r.Equal(sa, sb)
}

func TestHandshakeStreamsAreMirrored(t *testing.T) {
	r := require.New(t)

	var secret [96]byte
	copy(secret[:], bytes.Repeat([]byte{0x42}, 96))
	var infoHash [20]byte
	copy(infoHash[:], bytes.Repeat([]byte{0x07}, 20))

	initiator, err := NewInitiatorHandshake(secret, infoHash)
	r.NoError(err)
	receiver, err := NewReceiverHandshake(secret, infoHash)
	r.NoError(err)

	plaintext := []byte("hello over an obfuscated wire")
	ciphertext := make([]byte, len(plaintext))
	initiator.EncryptStream.Cipher.XORKeyStream(ciphertext, plaintext)

	decrypted := make([]byte, len(ciphertext))
	receiver.DecryptStream.Cipher.XORKeyStream(decrypted, ciphertext)
	r.Equal(plaintext, decrypted)
}

func TestRC4RoundTrip(t *testing.T) {
	r := require.New(t)

	var key [20]byte
	copy(key[:], []byte("some twenty byte key"))

	enc, err := newStream(key)
	r.NoError(err)
	dec, err := newStream(key)
	r.NoError(err)

	plaintext := []byte("round trip through RC4 with the keystream discard applied")
	ciphertext := make([]byte, len(plaintext))
	enc.Cipher.XORKeyStream(ciphertext, plaintext)
	r.NotEqual(plaintext, ciphertext)

	decrypted := make([]byte, len(ciphertext))
	dec.Cipher.XORKeyStream(decrypted, ciphertext)
	r.Equal(plaintext, decrypted)
}
