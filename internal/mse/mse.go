// Package mse implements Message Stream Encryption, the Azureus/Vuze
// obfuscation handshake layered before the BitTorrent handshake, grounded
// on libtransmission's peer-mse.cc: Diffie-Hellman key exchange followed
// by an RC4 keystream with the first 1024 bytes of each direction
// discarded.
package mse

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1" //nolint:gosec // required by the MSE spec
	"errors"
	"math/big"
)

// DH parameters fixed by the Azureus MSE specification: a 768-bit prime
// and generator 2.
var (
	dhPrime, _ = new(big.Int).SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74"+
			"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437"+
			"4FE1356D6D51C245E485B576625E7EC6F44C42E9A63A36210000000000090563", 16)
	dhGenerator = big.NewInt(2)
)

const keystreamDiscard = 1024

// KeyPair is a Diffie-Hellman keypair used for one MSE handshake.
type KeyPair struct {
	priv *big.Int
	Pub  [96]byte
}

// NewKeyPair generates a fresh 160-bit private exponent and computes the
// public value Y = g^X mod p.
func NewKeyPair() (*KeyPair, error) {
	privBytes := make([]byte, 20)
	if _, err := rand.Read(privBytes); err != nil {
		return nil, err
	}
	priv := new(big.Int).SetBytes(privBytes)
	pub := new(big.Int).Exp(dhGenerator, priv, dhPrime)
	kp := &KeyPair{priv: priv}
	pub.FillBytes(kp.Pub[:])
	return kp, nil
}

// SharedSecret computes S = peerPublic^X mod p, as a 96-byte big-endian value.
func (kp *KeyPair) SharedSecret(peerPublic []byte) [96]byte {
	y := new(big.Int).SetBytes(peerPublic)
	s := new(big.Int).Exp(y, kp.priv, dhPrime)
	var out [96]byte
	s.FillBytes(out[:])
	return out
}

// deriveKey computes SHA1(label || secret || infoHash).
func deriveKey(label string, secret [96]byte, infoHash [20]byte) [20]byte {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(label))
	h.Write(secret[:])
	h.Write(infoHash[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Stream is a keyed RC4 keystream with the leading discard already applied,
// ready to XOR with plaintext/ciphertext via Cipher.XORKeyStream.
type Stream struct {
	Cipher *rc4.Cipher
}

func newStream(key [20]byte) (*Stream, error) {
	c, err := rc4.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	discard := make([]byte, keystreamDiscard)
	c.XORKeyStream(discard, discard)
	return &Stream{Cipher: c}, nil
}

// Handshake holds the two derived keystreams for a completed MSE exchange.
// keyA encrypts initiator->receiver bytes; keyB encrypts the reverse.
type Handshake struct {
	EncryptStream *Stream // this side's outgoing stream
	DecryptStream *Stream // this side's incoming stream
}

// NewInitiatorHandshake derives the initiator-side (dialing peer) streams.
func NewInitiatorHandshake(secret [96]byte, infoHash [20]byte) (*Handshake, error) {
	keyA := deriveKey("keyA", secret, infoHash)
	keyB := deriveKey("keyB", secret, infoHash)
	enc, err := newStream(keyA)
	if err != nil {
		return nil, err
	}
	dec, err := newStream(keyB)
	if err != nil {
		return nil, err
	}
	return &Handshake{EncryptStream: enc, DecryptStream: dec}, nil
}

// NewReceiverHandshake derives the receiver-side (accepting peer) streams,
// the mirror image of NewInitiatorHandshake.
func NewReceiverHandshake(secret [96]byte, infoHash [20]byte) (*Handshake, error) {
	h, err := NewInitiatorHandshake(secret, infoHash)
	if err != nil {
		return nil, err
	}
	h.EncryptStream, h.DecryptStream = h.DecryptStream, h.EncryptStream
	return h, nil
}

// ErrHandshakeFailed is returned when the MSE exchange cannot be completed.
var ErrHandshakeFailed = errors.New("mse: handshake failed")
