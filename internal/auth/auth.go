// Package auth derives and verifies the client's certificate identity.
// The harness sits behind a TLS terminator that forwards the client
// certificate in a header; identity follows the IEEE 2030.5 LFDI/SFDI
// derivation from the certificate fingerprint.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CertificateHeader carries the URL-encoded PEM client certificate from the
// TLS terminator.
const CertificateHeader = "ssl-client-cert"

// lfdiHexChars is the length of an LFDI: the leftmost 160 bits of the
// certificate's SHA-256 fingerprint.
const lfdiHexChars = 40

// NormalizeLFDI lowercases an LFDI and strips the colon and space separators
// fingerprint tools like to insert.
func NormalizeLFDI(lfdi string) string {
	replacer := strings.NewReplacer(":", "", " ", "")
	return strings.ToLower(replacer.Replace(lfdi))
}

// LFDIFromPEM computes the LFDI of a PEM-encoded certificate: the first 40
// hex digits of the SHA-256 digest of its DER encoding.
func LFDIFromPEM(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("no PEM block found in certificate data")
	}
	digest := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(digest[:])[:lfdiHexChars], nil
}

// SFDIFromLFDI derives the SFDI: the leftmost 36 bits of the fingerprint as
// a decimal number, with a sum-of-digits-mod-10 check digit appended.
func SFDIFromLFDI(lfdi string) (int64, error) {
	normalized := NormalizeLFDI(lfdi)
	if len(normalized) < 9 {
		return 0, fmt.Errorf("LFDI %q is too short", lfdi)
	}
	bits, err := strconv.ParseInt(normalized[:9], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("LFDI %q is not hexadecimal: %w", lfdi, err)
	}

	sum := 0
	for n := bits; n > 0; n /= 10 {
		sum += int(n % 10)
	}
	checkDigit := (10 - sum%10) % 10
	return bits*10 + int64(checkDigit), nil
}

// ClientLFDI extracts the client certificate from the request and returns
// its LFDI.
func ClientLFDI(r *http.Request) (string, error) {
	raw := r.Header.Get(CertificateHeader)
	if raw == "" {
		return "", fmt.Errorf("no client certificate header present")
	}
	pemData, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decoding client certificate header: %w", err)
	}
	return LFDIFromPEM([]byte(pemData))
}

// Authorize verifies the request carries the certificate the active run was
// initialised with.
func Authorize(r *http.Request, expectedLFDI string) error {
	lfdi, err := ClientLFDI(r)
	if err != nil {
		return err
	}
	if NormalizeLFDI(lfdi) != NormalizeLFDI(expectedLFDI) {
		return fmt.Errorf("client certificate LFDI %s does not match the registered LFDI", lfdi)
	}
	return nil
}
