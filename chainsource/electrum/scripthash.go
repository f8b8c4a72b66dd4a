package electrum

import (
	"crypto/sha256"
	"encoding/hex"
)

// addressToScriptHash computes the Electrum protocol's scripthash for a
// given output script: sha256 of the script, byte-reversed, hex-encoded.
func addressToScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	reversed := make([]byte, len(sum))
	for i := range sum {
		reversed[i] = sum[len(sum)-1-i]
	}
	return hex.EncodeToString(reversed)
}
