package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"videoflix/internal/models"
)

// Token purposes. Each purpose derives a distinct HMAC so an activation
// token never validates as a reset token.
const (
	PurposeActivation    = "activation"
	PurposePasswordReset = "password-reset"

	DefaultOneTimeTimeout = 3 * 24 * time.Hour
)

const oneTimeHashLength = 32

// OneTimeTokens issues stateless activation and password reset tokens. A
// token is bound to the user's state, so activating the account or changing
// the password invalidates every token issued before.
type OneTimeTokens struct {
	secret  []byte
	timeout time.Duration
	now     func() time.Time
}

// NewOneTimeTokens builds a generator. A non-positive timeout selects
// DefaultOneTimeTimeout.
func NewOneTimeTokens(secret string, timeout time.Duration) *OneTimeTokens {
	if timeout <= 0 {
		timeout = DefaultOneTimeTimeout
	}
	return &OneTimeTokens{secret: []byte(secret), timeout: timeout, now: time.Now}
}

// WithClock returns a copy using now as the time source.
func (t *OneTimeTokens) WithClock(now func() time.Time) *OneTimeTokens {
	clone := *t
	clone.now = now
	return &clone
}

// Make returns a token of the form <base36 timestamp>-<hmac>.
func (t *OneTimeTokens) Make(purpose string, user models.User) string {
	return t.makeAt(purpose, user, t.now().Unix())
}

func (t *OneTimeTokens) makeAt(purpose string, user models.User, ts int64) string {
	return strconv.FormatInt(ts, 36) + "-" + t.hash(purpose, user, ts)
}

// Check reports whether token was issued for user and purpose, is unexpired
// and matches the user's current state.
func (t *OneTimeTokens) Check(purpose string, user models.User, token string) bool {
	tsPart, hashPart, ok := strings.Cut(token, "-")
	if !ok || tsPart == "" || len(hashPart) != oneTimeHashLength {
		return false
	}
	ts, err := strconv.ParseInt(tsPart, 36, 64)
	if err != nil || ts < 0 {
		return false
	}
	expected := t.makeAt(purpose, user, ts)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return false
	}
	age := t.now().Unix() - ts
	return age >= 0 && time.Duration(age)*time.Second <= t.timeout
}

func (t *OneTimeTokens) hash(purpose string, user models.User, ts int64) string {
	lastLogin := ""
	if user.LastLogin != nil {
		lastLogin = strconv.FormatInt(user.LastLogin.UTC().Unix(), 10)
	}
	mac := hmac.New(sha256.New, t.secret)
	fmt.Fprintf(mac, "%s|%d|%s|%s|%t|%d", purpose, user.ID, user.PasswordHash, lastLogin, user.IsActive, ts)
	return hex.EncodeToString(mac.Sum(nil))[:oneTimeHashLength]
}

// EncodeUID renders a user id for use in activation and reset links.
func EncodeUID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeUID reverses EncodeUID. Padded input is accepted.
func DecodeUID(value string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(value), "="))
	if err != nil {
		return 0, fmt.Errorf("decode uid: %w", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("decode uid: invalid id")
	}
	return id, nil
}
