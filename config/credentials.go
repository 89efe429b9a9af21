package config

import (
	"os"
	"strings"

	"polofeed/models"
)

// Each credential field accepts the first non-empty variable of its list.
var (
	apiKeyVars     = []string{"POLONIEX_API_KEY", "POLO_API_KEY"}
	apiSecretVars  = []string{"POLONIEX_API_SECRET", "POLO_API_SECRET"}
	passphraseVars = []string{"POLONIEX_API_PASSPHRASE", "POLO_API_PASSPHRASE", "POLO_PASSPHRASE"}
)

// LoadCredentials reads the private-channel credential from the environment.
// It returns nil when the key or secret is missing.
func LoadCredentials() *models.Credential {
	cred := &models.Credential{
		APIKey:     firstEnv(apiKeyVars),
		APISecret:  firstEnv(apiSecretVars),
		Passphrase: firstEnv(passphraseVars),
	}
	if !cred.Complete() {
		return nil
	}
	return cred
}

func firstEnv(names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
