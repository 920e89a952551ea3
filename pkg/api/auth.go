package api

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	venuecrypto "github.com/duskpool/venue/pkg/crypto"
)

// Envelope headers carrying the authenticated request envelope per
// spec.md §6: address, timestamp, and a signature over the canonical
// string "{METHOD}|{PATH}|{SHA256(body)}|{TIMESTAMP}".
const (
	headerAddress   = "X-Venue-Address"
	headerTimestamp = "X-Venue-Timestamp"
	headerSignature = "X-Venue-Signature"
)

// authenticate reads the envelope headers and body, verifies the
// signature and clock skew, and returns the body bytes and the
// recovered address. The core never sees an unauthenticated request.
func (s *Server) authenticate(r *http.Request) (common.Address, []byte, error) {
	addrHex := r.Header.Get(headerAddress)
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, nil, fmt.Errorf("missing or invalid %s header", headerAddress)
	}
	addr := common.HexToAddress(addrHex)

	tsStr := r.Header.Get(headerTimestamp)
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("missing or invalid %s header", headerTimestamp)
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.skewWindow {
		return common.Address{}, nil, fmt.Errorf("timestamp skew %s exceeds window %s", skew, s.skewWindow)
	}

	sigHex := r.Header.Get(headerSignature)
	sig, err := hex.DecodeString(trimHexPrefix(sigHex))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid %s header", headerSignature)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to read body: %w", err)
	}

	if !venuecrypto.VerifyEnvelope(addr, r.Method, r.URL.Path, body, ts, sig) {
		return common.Address{}, nil, fmt.Errorf("signature verification failed")
	}

	return addr, body, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
