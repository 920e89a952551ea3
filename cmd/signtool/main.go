// Command signtool signs a request envelope for the venue's API,
// mirroring the teacher's sign-order devnet helper: generate or load a
// key, build the payload, sign it, and print something ready to curl.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/duskpool/venue/pkg/crypto"
)

func main() {
	method := flag.String("method", "POST", "HTTP method of the request being signed")
	path := flag.String("path", "/v1/orders", "request path, e.g. /v1/orders")
	bodyFile := flag.String("body", "", "path to a file containing the JSON body (- for stdin, empty for no body)")
	keyHex := flag.String("key", "", "private key hex; generates a fresh keypair if omitted")
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "key error: %v\n", err)
		os.Exit(1)
	}

	var body []byte
	switch *bodyFile {
	case "":
		body = nil
	case "-":
		body, err = io.ReadAll(os.Stdin)
	default:
		body, err = os.ReadFile(*bodyFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "body read error: %v\n", err)
		os.Exit(1)
	}

	ts := time.Now().Unix()
	canonical := crypto.CanonicalString(*method, *path, body, ts)
	sig, err := signer.SignMessage([]byte(canonical))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address:    %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	fmt.Println("Headers:")
	fmt.Printf("  X-Venue-Address: %s\n", signer.Address().Hex())
	fmt.Printf("  X-Venue-Timestamp: %d\n", ts)
	fmt.Printf("  X-Venue-Signature: 0x%s\n\n", hex.EncodeToString(sig))

	fmt.Println("curl example:")
	fmt.Printf("  curl -X %s http://localhost:8080%s \\\n", *method, *path)
	fmt.Printf("    -H 'X-Venue-Address: %s' \\\n", signer.Address().Hex())
	fmt.Printf("    -H 'X-Venue-Timestamp: %d' \\\n", ts)
	fmt.Printf("    -H 'X-Venue-Signature: 0x%s'", hex.EncodeToString(sig))
	if len(body) > 0 {
		fmt.Printf(" \\\n    -d '%s'", string(body))
	}
	fmt.Println()
}
