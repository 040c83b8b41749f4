// internal/security/helper.go
package security

import "strings"

func pathToEnvKey(path string) string {
	// Convert "crypto/master-key" to "CRYPTO_MASTER_KEY"
	key := strings.ToUpper(path)
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}
