package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultConfirmationTTL bounds how long an email confirmation secret stays
// redeemable.
const DefaultConfirmationTTL = 48 * time.Hour

const confirmationPurposeEmail = "email-confirm"

// confirmationCodec mints and verifies account confirmation secrets. A secret
// is an HMAC over purpose, user id, the account's security stamp, and an
// expiry instant. Binding the MAC to the stamp makes every secret single-use:
// rotating the stamp on redemption invalidates anything minted before it.
type confirmationCodec struct {
	key []byte
	now func() time.Time
}

func newConfirmationCodec(signingKey string) *confirmationCodec {
	return &confirmationCodec{
		key: []byte(signingKey),
		now: time.Now,
	}
}

// Mint produces an opaque secret of the form payload.signature, both parts
// base64url encoded. The payload carries only the expiry; the security stamp
// never leaves the server.
func (c *confirmationCodec) Mint(user *User, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}

	expiry := c.now().Add(ttl).Unix()
	payload := strconv.FormatInt(expiry, 10)
	sig := c.sign(user.ID, user.SecurityStamp, expiry)

	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// Verify checks a secret against the user's current security stamp and the
// embedded expiry. Every failure mode maps to ErrInvalidToken so callers
// cannot distinguish tampering from expiry.
func (c *confirmationCodec) Verify(user *User, secret string) error {
	payloadPart, sigPart, ok := strings.Cut(secret, ".")
	if !ok {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return ErrInvalidToken
	}

	expiry, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		return ErrInvalidToken
	}

	want := c.sign(user.ID, user.SecurityStamp, expiry)
	if !hmac.Equal(sig, want) {
		return ErrInvalidToken
	}

	if c.now().Unix() > expiry {
		return withMetadata(ErrInvalidToken, map[string]any{"reason": "expired"})
	}

	return nil
}

func (c *confirmationCodec) sign(userID uuid.UUID, stamp string, expiry int64) []byte {
	mac := hmac.New(sha256.New, c.key)
	fmt.Fprintf(mac, "%s|%s|%s|%d", confirmationPurposeEmail, userID, stamp, expiry)
	return mac.Sum(nil)
}
