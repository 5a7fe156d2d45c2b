package sender

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	SignatureField  = "signature"
	SignaturePrefix = "sha256="
)

// Canonicalize re-serializes a JSON document the way it is signed: the
// top-level signature field removed, object keys sorted at every level, no
// insignificant whitespace and no HTML escaping. Numbers keep their literal form.
func Canonicalize(body []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to decode payload: %w", err)
	}
	if obj, ok := doc.(map[string]any); ok {
		delete(obj, SignatureField)
	}

	// encoding/json writes map keys in sorted order
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("unable to encode canonical payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns hex(HMAC-SHA256(secret, canonical)).
func Sign(canonical []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload canonicalizes body and signs it.
func SignPayload(body []byte, secret string) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	return Sign(canonical, secret), nil
}

// Verify checks a signature against a received body. The signature may carry
// the sha256= header prefix. Any embedded signature field in body is ignored.
func Verify(body []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(body)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), expected)
}
