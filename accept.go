package websocket

import (
	"crypto/sha1" //nolint:gosec // SHA-1 required by RFC 6455 §1.3, not used for security.
	"encoding/base64"
)

// computeAcceptKey implements RFC 6455 §1.3: base64(SHA-1(key || GUID)).
func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
