package dispatch

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// SignatureHeader names the header carrying the delivery signature.
const SignatureHeader = "Upstash-Signature"

// DefaultIssuer is the expected iss claim of delivery signatures.
const DefaultIssuer = "Upstash"

var (
	ErrMissingSignature = errors.New("missing delivery signature")
	ErrInvalidSignature = errors.New("invalid delivery signature")
)

// DeliveryClaims are the claims of a signed delivery. Body is the
// base64url-encoded SHA-256 of the request body.
type DeliveryClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier validates signed deliveries against a current and a next
// signing key, so keys can be rotated without rejecting in-flight messages.
type Verifier struct {
	currentKey []byte
	nextKey    []byte
	issuer     string
}

// NewVerifier creates a Verifier. At least one key is required.
func NewVerifier(currentKey, nextKey, issuer string) (*Verifier, error) {
	if currentKey == "" && nextKey == "" {
		return nil, errors.New("at least one signing key is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Verifier{
		currentKey: []byte(currentKey),
		nextKey:    []byte(nextKey),
		issuer:     issuer,
	}, nil
}

// Verify checks signature against body.
func (v *Verifier) Verify(signature string, body []byte) error {
	if strings.TrimSpace(signature) == "" {
		return ErrMissingSignature
	}

	var firstErr error
	for _, key := range [][]byte{v.currentKey, v.nextKey} {
		if len(key) == 0 {
			continue
		}
		err := v.verifyWithKey(signature, body, key)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (v *Verifier) verifyWithKey(signature string, body, key []byte) error {
	claims := &DeliveryClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := parser.ParseWithClaims(signature, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return ErrInvalidSignature
	}

	if !claims.VerifyIssuer(v.issuer, true) {
		return fmt.Errorf("%w: unexpected issuer %q", ErrInvalidSignature, claims.Issuer)
	}

	if strings.TrimRight(claims.Body, "=") != BodyHash(body) {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// BodyHash is the unpadded base64url SHA-256 of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
