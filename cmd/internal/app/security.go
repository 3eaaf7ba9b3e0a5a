package app

import (
	"crypto/rand"
	"errors"
	"fmt"

	"teamchat/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. With auth
// required, a missing or short signing secret is fatal.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireAuth {
		return nil
	}
	if _, err := token.SecretFromEnv(token.MinSecretBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return fmt.Errorf("security policy: CHAT_REQUIRE_AUTH=true but %s is missing", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: CHAT_REQUIRE_AUTH=true but %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return err
		}
	}
	return nil
}

// signingSecret returns the configured JWT secret. In open mode a missing
// secret is replaced by a random per-process key, so tokens from /api/auth/login
// stop verifying after a restart.
func signingSecret(cfg Config, log Logger) ([]byte, error) {
	secret, err := token.SecretFromEnv(token.MinSecretBytes)
	if err == nil {
		return secret, nil
	}
	if cfg.RequireAuth || !errors.Is(err, token.ErrSecretMissing) {
		return nil, err
	}

	secret = make([]byte, token.MinSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	log.Warn("security.jwt_secret.ephemeral", "env", token.SecretEnvKey)
	return secret, nil
}
