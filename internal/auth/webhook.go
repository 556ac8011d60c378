package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// webhookTolerance bounds how old (or future-dated) a webhook timestamp
// may be before the payload is rejected as a possible replay.
const webhookTolerance = 5 * time.Minute

// VerifyWebhookSignature checks a provider webhook against the shared
// secret. The provider signs "id.timestamp.payload" with HMAC-SHA256 and
// sends one or more space-separated "v1,<base64>" entries in the
// signature header.
func VerifyWebhookSignature(secret, msgID, timestamp, signatureHeader string, payload []byte) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if msgID == "" || timestamp == "" || signatureHeader == "" {
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	}
	age := time.Since(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return fmt.Errorf("%w: malformed secret", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			return nil
		}
	}

	return ErrInvalidSignature
}

func decodeSecret(secret string) ([]byte, error) {
	// Provider secrets are distributed as "whsec_<base64>".
	if raw, ok := strings.CutPrefix(secret, "whsec_"); ok {
		return base64.StdEncoding.DecodeString(raw)
	}
	return []byte(secret), nil
}
