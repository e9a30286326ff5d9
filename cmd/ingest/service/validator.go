package service

import (
	"fmt"
	"strings"
)

// ValidationPolicy is the admission policy for uploads
type ValidationPolicy struct {
	AllowedTypes []string
	MaxBytes     int64
}

// Validator checks declared type and size before any bytes are read
type Validator struct {
	allowed  map[string]struct{}
	maxBytes int64
}

// NewValidator builds a validator for policy
func NewValidator(policy ValidationPolicy) *Validator {
	allowed := make(map[string]struct{}, len(policy.AllowedTypes))
	for _, t := range policy.AllowedTypes {
		allowed[NormalizeType(t)] = struct{}{}
	}
	return &Validator{allowed: allowed, maxBytes: policy.MaxBytes}
}

// MaxBytes is the size ceiling, inclusive
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate rejects a disallowed type, an empty payload or one over the ceiling.
// A negative size means unknown and only the type is checked.
func (v *Validator) Validate(declaredType string, size int64) error {
	if err := v.ValidateType(declaredType); err != nil {
		return err
	}
	if size < 0 {
		return nil
	}
	return v.ValidateSize(size)
}

// ValidateType checks the declared content type against the allow-list
func (v *Validator) ValidateType(declaredType string) error {
	t := NormalizeType(declaredType)
	if _, ok := v.allowed[t]; !ok {
		if t == "" {
			t = "(none)"
		}
		return invalidInput(CodeUnsupportedType, fmt.Sprintf("content type %s is not allowed", t))
	}
	return nil
}

// ValidateSize checks the payload size against the ceiling
func (v *Validator) ValidateSize(size int64) error {
	if size == 0 {
		return invalidInput(CodeEmptyPayload, "payload is empty")
	}
	if size > v.maxBytes {
		return invalidInput(CodeTooLarge, fmt.Sprintf("payload exceeds %d bytes", v.maxBytes))
	}
	return nil
}

// NormalizeType lower-cases a media type and drops its parameters
func NormalizeType(declaredType string) string {
	t, _, _ := strings.Cut(declaredType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
