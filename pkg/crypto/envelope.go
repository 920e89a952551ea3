package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// CanonicalString builds the signed string for an authenticated request
// envelope: "{METHOD}|{PATH}|{SHA256(body)}|{TIMESTAMP}".
func CanonicalString(method, path string, body []byte, timestamp int64) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s|%s|%s|%d", method, path, hex.EncodeToString(sum[:]), timestamp)
}

// VerifyEnvelope checks that signature was produced by address over the
// canonical request string. The canonical string is hashed with Keccak256
// before recovery, matching Signer.SignMessage.
func VerifyEnvelope(address common.Address, method, path string, body []byte, timestamp int64, signature []byte) bool {
	canonical := CanonicalString(method, path, body, timestamp)
	hash := ethcrypto.Keccak256Hash([]byte(canonical)).Bytes()
	return VerifySignature(address, hash, signature)
}
