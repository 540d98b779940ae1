// Package jwk converts JSON Web Keys carrying raw RSA material (modulus and
// exponent) into usable verification keys and deterministic PEM output.
//
// The converter deliberately goes through crypto/x509's PKIX encoder rather
// than hand-assembling ASN.1: the standard library accepts a raw
// modulus/exponent pair via [rsa.PublicKey] and emits exactly the
// SEQUENCE{AlgorithmIdentifier, BIT STRING{RSAPublicKey}} structure that
// provider JWKS documents describe, including long-form DER lengths for
// moduli above 127 bytes.
package jwk

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// Key is the subset of a JSON Web Key this package consumes. N and E are
// base64url-encoded big-endian integers per RFC 7518.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Set is a JWKS document as served by provider key endpoints.
type Set struct {
	Keys []Key `json:"keys"`
}

var (
	// ErrNotRSA is returned for keys whose kty is present and not "RSA".
	ErrNotRSA = errors.New("jwk: key type is not RSA")
	// ErrMalformed is returned when modulus or exponent cannot be decoded.
	ErrMalformed = errors.New("jwk: malformed key material")
)

// PublicKey reconstructs the RSA public key from the JWK's modulus and
// exponent.
func (k Key) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "" && k.Kty != "RSA" {
		return nil, ErrNotRSA
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %v", ErrMalformed, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %v", ErrMalformed, err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("%w: empty modulus or exponent", ErrMalformed)
	}
	// An exponent above 31 bits does not fit int on 32-bit platforms and no
	// real provider issues one.
	if len(eBytes) > 4 {
		return nil, fmt.Errorf("%w: exponent too large", ErrMalformed)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e < 2 {
		return nil, fmt.Errorf("%w: exponent %d", ErrMalformed, e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// PEM returns the key as a PKIX "PUBLIC KEY" PEM block. Output is
// byte-identical across calls for the same key material: DER encoding is
// deterministic and pem.EncodeToMemory wraps at fixed 64-column lines.
func (k Key) PEM() ([]byte, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}), nil
}

// ByKid returns the key with the given kid, or false when absent.
func (s Set) ByKid(kid string) (Key, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return Key{}, false
}
