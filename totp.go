package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// TOTPVerifier is the default [SecondFactorVerifier]. It validates RFC 6238
// codes against Identity.TOTPSecret. With a Redis client, each accepted code
// is remembered for its validity window and cannot be used twice.
type TOTPVerifier struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewTOTPVerifier creates a verifier. redisClient and now may be nil.
func NewTOTPVerifier(redisClient redis.UniversalClient, now func() time.Time) *TOTPVerifier {
	if now == nil {
		now = time.Now
	}
	return &TOTPVerifier{redis: redisClient, now: now}
}

func totpValidateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// VerifyCode implements [SecondFactorVerifier].
func (v *TOTPVerifier) VerifyCode(ctx context.Context, id Identity, code string) (bool, error) {
	if v == nil {
		return false, ErrEngineNotReady
	}
	code = strings.TrimSpace(code)
	if id.TOTPSecret == "" || code == "" {
		return false, nil
	}

	ok, err := totp.ValidateCustom(code, id.TOTPSecret, v.now(), totpValidateOpts())
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("totp secret for %s: %w", id.User, err)
	}
	if !ok || v.redis == nil {
		return ok, nil
	}

	ttl := time.Duration(totpPeriod*(2*totpSkew+1)) * time.Second
	fresh, err := v.redis.SetNX(ctx, totpReplayKey(id.TenantID, id.User, code), 1, ttl).Result()
	if err != nil {
		return false, infraError(err)
	}
	return fresh, nil
}

func totpReplayKey(tenantID, user, code string) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return "gstotp:" + tenantID + ":" + user + ":" + code
}

// GenerateTOTPSecret creates a new base32 secret for account together with
// its otpauth:// provisioning URL.
func GenerateTOTPSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
