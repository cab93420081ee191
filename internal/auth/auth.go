// Package auth holds the credentials used to authenticate against the market
// data stream and renders the authentication frame sent after connect.
package auth

import (
	"encoding/json"
	"fmt"
)

// Credentials holds the API key pair for the market data stream.
type Credentials struct {
	KeyID  string // API key id from the venue dashboard
	Secret string // API secret key
}

// authFrame is the wire format of the authentication request.
type authFrame struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// Missing returns the names of the credential fields that are empty.
func (c Credentials) Missing() []string {
	var missing []string
	if c.KeyID == "" {
		missing = append(missing, "api_key_id")
	}
	if c.Secret == "" {
		missing = append(missing, "api_secret_key")
	}
	return missing
}

// Validate returns an error if either field is empty.
func (c Credentials) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("credentials missing %v", missing)
	}
	return nil
}

// SecretPrefix returns at most the first four characters of the secret.
func (c Credentials) SecretPrefix() string {
	if len(c.Secret) <= 4 {
		return c.Secret
	}
	return c.Secret[:4]
}

// String renders the credentials without leaking the full secret.
func (c Credentials) String() string {
	return fmt.Sprintf("key_id=%s secret=%s****", c.KeyID, c.SecretPrefix())
}

// Frame returns the JSON authentication frame:
//
//	{"action":"auth","key":"<id>","secret":"<secret>"}
func (c Credentials) Frame() ([]byte, error) {
	data, err := json.Marshal(authFrame{
		Action: "auth",
		Key:    c.KeyID,
		Secret: c.Secret,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth frame: %w", err)
	}
	return data, nil
}
