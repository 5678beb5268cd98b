package manager

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/sha3"
)

// CredentialDigest derives the stored form of a username/password pair.
// Authorization compares digests, so raw credentials never stick around.
func CredentialDigest(username, password string) string {
	sum := sha3.Sum256([]byte(username + ":" + password))
	return "sha3:" + hex.EncodeToString(sum[:])
}

// extractBasicAuth pulls the username and credential digest out of an
// Authorization header. The second return is false when the header is
// missing or not basic auth.
func extractBasicAuth(h http.Header) (username, digest string, ok bool) {
	auth := h.Get("Authorization")
	idx := strings.IndexByte(auth, ' ')
	if idx < 0 || !strings.EqualFold(auth[:idx], "basic") {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[idx+1:]))
	if err != nil {
		return "", "", false
	}
	pair := string(decoded)
	colon := strings.IndexByte(pair, ':')
	if colon < 0 {
		return "", "", false
	}

	sum := sha3.Sum256(decoded)
	return pair[:colon], "sha3:" + hex.EncodeToString(sum[:]), true
}

// certHash fingerprints a certificate file as "sha3:<hex>".
func certHash(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", confErrorf("unable to read the certificate file %q: %s", path, err)
	}
	sum := sha3.Sum256(contents)
	return fmt.Sprintf("sha3:%x", sum), nil
}
