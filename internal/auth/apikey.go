package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeys validates static API keys against configured bcrypt hashes. Keys
// belong to integrations such as the WhatsApp bridge.
type APIKeys struct {
	hashes [][]byte
}

func NewAPIKeys(hashes []string) *APIKeys {
	k := &APIKeys{}
	for _, h := range hashes {
		if h != "" {
			k.hashes = append(k.hashes, []byte(h))
		}
	}
	return k
}

// Validate returns the integration context of a known key.
func (k *APIKeys) Validate(key string) (*UserContext, error) {
	if key == "" {
		return nil, ErrInvalidAPIKey
	}
	for i, h := range k.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return &UserContext{
				Subject:   fmt.Sprintf("api_key_%d", i),
				Role:      RoleIntegration,
				Scopes:    ScopesForRole(RoleIntegration),
				IsAPIKey:  true,
				TokenType: "api_key",
			}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

// HashAPIKey returns the bcrypt hash to put in auth.api_key_hashes.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
