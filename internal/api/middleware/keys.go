package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/splashkes/eventlinter/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyTag starts every raw API key.
const KeyTag = "el_"

// GenerateKey mints a new API key. The raw key is returned once and only its
// bcrypt hash is kept on the record.
func GenerateKey(name string, scopes []string) (*models.APIKey, string, error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generating key: %w", err)
	}
	rawKey := KeyTag + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing key: %w", err)
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeRead}
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, rawKey, nil
}
