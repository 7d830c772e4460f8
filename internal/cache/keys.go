package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CatalogueKey addresses the cached rule catalogue document fetched from url.
func CatalogueKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("rules:catalogue:%s", hex.EncodeToString(sum[:8]))
}

func RuleTestKey(ruleID string) string {
	return fmt.Sprintf("rules:test:%s", ruleID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
