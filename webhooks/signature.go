package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	secretPrefix     = "whsec_"
	signatureVersion = "v1"
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingHeaders     = errors.New("webhooks: missing signature headers")
	ErrInvalidSignature   = errors.New("webhooks: signature verification failed")
	ErrTimestampTolerance = errors.New("webhooks: timestamp outside tolerance")
)

// headerSets lists the svix header names and the unbranded webhook-*
// aliases, in lookup order.
var headerSets = [][3]string{
	{"svix-id", "svix-timestamp", "svix-signature"},
	{"webhook-id", "webhook-timestamp", "webhook-signature"},
}

// SignedHeaders are the three values a signature is computed over.
type SignedHeaders struct {
	ID        string
	Timestamp string
	Signature string
}

// SvixVerifier checks Svix style signatures:
// v1,base64(HMAC-SHA256(secret, id.timestamp.body)).
type SvixVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewSvixVerifier(secret string, tolerance time.Duration) *SvixVerifier {
	return &SvixVerifier{Secret: secret, Tolerance: tolerance}
}

// ExtractHeaders reads the signed header triple. Header names are matched
// case-insensitively.
func ExtractHeaders(headers map[string]string) (SignedHeaders, error) {
	for _, names := range headerSets {
		out := SignedHeaders{
			ID:        strings.TrimSpace(headerValue(headers, names[0])),
			Timestamp: strings.TrimSpace(headerValue(headers, names[1])),
			Signature: strings.TrimSpace(headerValue(headers, names[2])),
		}
		if out.ID != "" || out.Timestamp != "" || out.Signature != "" {
			if out.ID == "" || out.Timestamp == "" || out.Signature == "" {
				return SignedHeaders{}, ErrMissingHeaders
			}
			return out, nil
		}
	}
	return SignedHeaders{}, ErrMissingHeaders
}

func (v *SvixVerifier) Verify(headers map[string]string, body []byte) (SignedHeaders, error) {
	signed, err := ExtractHeaders(headers)
	if err != nil {
		return SignedHeaders{}, err
	}
	if v == nil {
		return SignedHeaders{}, fmt.Errorf("webhooks: verifier is not configured")
	}
	key, err := decodeSecret(v.Secret)
	if err != nil {
		return SignedHeaders{}, err
	}

	seconds, err := strconv.ParseInt(signed.Timestamp, 10, 64)
	if err != nil {
		return SignedHeaders{}, fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(time.Unix(seconds, 0))
	if skew > tolerance || skew < -tolerance {
		return SignedHeaders{}, ErrTimestampTolerance
	}

	expected := computeSignature(key, signed.ID, signed.Timestamp, body)
	for _, candidate := range strings.Fields(signed.Signature) {
		version, value, ok := strings.Cut(candidate, ",")
		if !ok || version != signatureVersion {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return signed, nil
		}
	}
	return SignedHeaders{}, ErrInvalidSignature
}

// Sign produces a signature header value for the given message. It is the
// inverse of Verify and is used by tests and local tooling.
func Sign(secret string, id string, timestamp time.Time, body []byte) (string, string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", "", err
	}
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	signature := signatureVersion + "," + base64.StdEncoding.EncodeToString(computeSignature(key, id, ts, body))
	return ts, signature, nil
}

func computeSignature(key []byte, id string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(id + "." + timestamp + "."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

func decodeSecret(secret string) ([]byte, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("webhooks: signing secret is required")
	}
	if !strings.HasPrefix(trimmed, secretPrefix) {
		return []byte(trimmed), nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("webhooks: decode signing secret: %w", err)
	}
	return key, nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[key]; ok {
		return value
	}
	for candidate, value := range headers {
		if strings.EqualFold(candidate, key) {
			return value
		}
	}
	return ""
}
