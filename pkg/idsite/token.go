package idsite

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Header names used on the wire.
const (
	HeaderType      = "typ"
	HeaderAlgorithm = "alg"
	HeaderKeyID     = "kid"

	// HeaderRequestID carries the ID Site request id on error responses.
	HeaderRequestID = "Stormpath-Request-Id"
)

var signingMethod = jwt.SigningMethodHS256

// Sign serializes claims as a compact HS256 token with the given key id in the header.
// Extra header values are merged in but never replace typ, alg or kid.
func Sign(keyID string, claims Claims, secret []byte, extraHeader map[string]interface{}) (string, error) {
	tok := jwt.NewWithClaims(signingMethod, jwt.MapClaims(claims))
	for k, v := range extraHeader {
		tok.Header[k] = v
	}
	tok.Header[HeaderType] = "JWT"
	tok.Header[HeaderAlgorithm] = signingMethod.Alg()
	tok.Header[HeaderKeyID] = keyID

	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", newError(ErrCodeIllegalState, err)
	}
	return signed, nil
}

// Token is a structurally decoded compact token whose signature has not been checked yet.
type Token struct {
	Raw    string
	Header map[string]interface{}

	signingString string
	payload       string
	signature     []byte
}

// ParseToken splits a compact token and decodes its header. The payload is left
// undecoded until Verify succeeds.
func ParseToken(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, newErrorf(ErrCodeMalformedToken, "token has %d segments, want 3", len(parts))
	}

	parser := jwt.NewParser()
	headerJSON, err := parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "decode header: %w", err)
	}
	var header map[string]interface{}
	if err := decodeJSON(headerJSON, &header); err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "parse header: %w", err)
	}

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "decode signature: %w", err)
	}

	return &Token{
		Raw:           raw,
		Header:        header,
		signingString: parts[0] + "." + parts[1],
		payload:       parts[1],
		signature:     sig,
	}, nil
}

// KeyID returns the kid header value, or "" when absent.
func (t *Token) KeyID() string {
	return t.headerString(HeaderKeyID)
}

// RequestID returns the ID Site request id carried in the header, if any.
func (t *Token) RequestID() string {
	if id := t.headerString(HeaderRequestID); id != "" {
		return id
	}
	return t.headerString("request_id")
}

func (t *Token) headerString(name string) string {
	if s, ok := t.Header[name].(string); ok {
		return s
	}
	return ""
}

// Verify checks the HMAC-SHA256 signature in constant time and, on success,
// decodes the payload.
func (t *Token) Verify(secret []byte) (Claims, error) {
	if alg := t.headerString(HeaderAlgorithm); alg != signingMethod.Alg() {
		return nil, newErrorf(ErrCodeInvalidSignature, "unexpected signing algorithm %q", alg)
	}
	if err := signingMethod.Verify(t.signingString, t.signature, secret); err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, newError(ErrCodeInvalidSignature, nil)
		}
		return nil, newError(ErrCodeInvalidSignature, err)
	}
	return t.UnverifiedClaims()
}

// UnverifiedClaims decodes the payload without checking the signature.
// Only use the result for diagnostics.
func (t *Token) UnverifiedClaims() (Claims, error) {
	payloadJSON, err := jwt.NewParser().DecodeSegment(t.payload)
	if err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "decode payload: %w", err)
	}
	var claims Claims
	if err := decodeJSON(payloadJSON, &claims); err != nil {
		return nil, newErrorf(ErrCodeMalformedToken, "parse payload: %w", err)
	}
	if claims == nil {
		return nil, newErrorf(ErrCodeMalformedToken, "payload is not an object")
	}
	return claims, nil
}

func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
