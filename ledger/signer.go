/*
signer.go - Keyed integrity signatures

PURPOSE:
  Produces and verifies HMAC-SHA256 signatures over chain payloads and
  audit entries. The signature is a second, keyed integrity check
  independent of the public hash chain: an attacker who rewrites the
  whole chain consistently still cannot forge signatures without the
  server-held secret.

KEY ROTATION:
  The signer holds one active key plus any number of retired keys.
  Signing always uses the active key; verification tries the active key
  first, then each retired key. Rotating is therefore: move the old key
  to the retired list, install the new one, and historical documents
  keep verifying.

USAGE:
  signer := ledger.NewSigner([]byte(os.Getenv("FISCAL_SIGNING_KEY")))
  signer = signer.WithRetiredKeys(oldKeys...)
  sig := signer.Sign(payload)
  if !signer.Verify(payload, sig) { ... }

SEE ALSO:
  - chain.go: Chain payload construction
  - audit.go: Audit entry signing
*/
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes HMAC-SHA256 signatures with rotation-aware verification.
type Signer struct {
	active  []byte
	retired [][]byte
}

// NewSigner creates a signer with the given active key.
func NewSigner(key []byte) *Signer {
	return &Signer{active: key}
}

// WithRetiredKeys returns a signer that also verifies signatures produced
// under the given prior keys. Signing still uses the active key only.
func (s *Signer) WithRetiredKeys(keys ...[]byte) *Signer {
	out := &Signer{active: s.active, retired: append([][]byte{}, s.retired...)}
	out.retired = append(out.retired, keys...)
	return out
}

// Sign returns the hex-encoded HMAC-SHA256 of payload under the active key.
func (s *Signer) Sign(payload string) string {
	return signWith(s.active, payload)
}

// Verify reports whether signature matches payload under the active key
// or any retired key.
func (s *Signer) Verify(payload, signature string) bool {
	if hmac.Equal([]byte(signWith(s.active, payload)), []byte(signature)) {
		return true
	}
	for _, key := range s.retired {
		if hmac.Equal([]byte(signWith(key, payload)), []byte(signature)) {
			return true
		}
	}
	return false
}

func signWith(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
