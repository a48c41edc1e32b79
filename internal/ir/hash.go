package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainQueryShape = "navq/query-shape/v1"
	DomainModel      = "navq/model/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ShapeHash computes the structural identity of a query shape. The shape
// object is produced by queryir.Fingerprint and already carries the
// parameter null-ness pattern and compiler options.
func ShapeHash(shape IRObject) (string, error) {
	canonical, err := MarshalCanonical(shape)
	if err != nil {
		return "", fmt.Errorf("ShapeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQueryShape, canonical), nil
}

// ModelHash computes the identity of a model spec. A plan cache built for
// one model hash must be invalidated when the hash changes.
func ModelHash(spec *ModelSpec) (string, error) {
	canonical, err := MarshalCanonical(spec.ToIR())
	if err != nil {
		return "", fmt.Errorf("ModelHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModel, canonical), nil
}

// MustShapeHash is like ShapeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustShapeHash(shape IRObject) string {
	h, err := ShapeHash(shape)
	if err != nil {
		panic(err)
	}
	return h
}
