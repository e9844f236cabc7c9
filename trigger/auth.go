package trigger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mohitkumar/flowgate/action"
	"github.com/mohitkumar/flowgate/model"
)

const (
	HEADER_AUTHORIZATION = "Authorization"
	HEADER_API_KEY       = "X-Api-Key"
	HEADER_SECRET        = "X-Webhook-Secret"
)

func authenticate(cfg *model.WebhookConfig, header http.Header, body []byte) error {
	switch cfg.AuthType {
	case model.AUTH_NONE, "":
		return nil
	case model.AUTH_BEARER:
		auth := header.Get(HEADER_AUTHORIZATION)
		if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
			return AuthError{Message: "missing bearer token"}
		}
		token := strings.TrimSpace(auth[7:])
		if token == "" {
			return AuthError{Message: "missing bearer token"}
		}
		return compareHash(token, cfg.Credentials[model.CRED_TOKEN_HASH], "invalid bearer token")
	case model.AUTH_APIKEY:
		key := header.Get(HEADER_API_KEY)
		if key == "" {
			return AuthError{Message: "missing api key"}
		}
		return compareHash(key, cfg.Credentials[model.CRED_KEY_HASH], "invalid api key")
	case model.AUTH_SECRET:
		sig := strings.TrimPrefix(header.Get(HEADER_SECRET), "sha256=")
		if sig == "" {
			return AuthError{Message: "missing signature"}
		}
		secret := cfg.Credentials[model.CRED_SECRET]
		if secret == "" {
			return AuthError{Message: "webhook has no secret configured"}
		}
		expected := action.Sign([]byte(secret), body)
		if subtle.ConstantTimeCompare([]byte(strings.ToLower(sig)), []byte(expected)) != 1 {
			return AuthError{Message: "invalid signature"}
		}
		return nil
	}
	return AuthError{Message: "unsupported auth type " + string(cfg.AuthType)}
}

func compareHash(plain string, storedHex string, msg string) error {
	if storedHex == "" {
		return AuthError{Message: "webhook has no credentials configured"}
	}
	sum := sha256.Sum256([]byte(plain))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(storedHex))) != 1 {
		return AuthError{Message: msg}
	}
	return nil
}
