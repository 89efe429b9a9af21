package models

// Credential authenticates the private channel. It is held in memory only
// and cleared on disconnect.
type Credential struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Complete reports whether the key and secret are both present.
func (c *Credential) Complete() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// String never prints the secret material.
func (c Credential) String() string {
	if c.APIKey == "" {
		return "Credential{<empty>}"
	}
	suffix := c.APIKey
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Credential{apiKey=***" + suffix + "}"
}
