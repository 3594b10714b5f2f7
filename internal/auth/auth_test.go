package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), der
}

func TestLFDIFromPEM(t *testing.T) {
	pemData, der := selfSignedPEM(t)

	lfdi, err := LFDIFromPEM(pemData)
	require.NoError(t, err)

	digest := sha256.Sum256(der)
	assert.Equal(t, hex.EncodeToString(digest[:])[:40], lfdi)
	assert.Len(t, lfdi, 40)
}

func TestLFDIFromPEMRejectsGarbage(t *testing.T) {
	_, err := LFDIFromPEM([]byte("not a certificate"))
	assert.Error(t, err)
}

func TestSFDIFromLFDI(t *testing.T) {
	// Worked example from IEEE 2030.5 section 8.3.2.
	sfdi, err := SFDIFromLFDI("3E4F45AB31EDFE5B67E343E5E4562E31984E23E5")
	require.NoError(t, err)
	assert.Equal(t, int64(167261211391), sfdi)

	// Separator and case variants normalise to the same value.
	sfdi, err = SFDIFromLFDI("3e:4f:45:ab:31:ed:fe:5b:67:e3:43:e5:e4:56:2e:31:98:4e:23:e5")
	require.NoError(t, err)
	assert.Equal(t, int64(167261211391), sfdi)
}

func TestSFDIFromLFDIRejectsBadInput(t *testing.T) {
	_, err := SFDIFromLFDI("abc")
	assert.Error(t, err)

	_, err = SFDIFromLFDI("zzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	pemData, der := selfSignedPEM(t)
	digest := sha256.Sum256(der)
	lfdi := hex.EncodeToString(digest[:])[:40]

	req, err := http.NewRequest(http.MethodGet, "/dcap", nil)
	require.NoError(t, err)
	req.Header.Set(CertificateHeader, url.QueryEscape(string(pemData)))

	assert.NoError(t, Authorize(req, lfdi))
	assert.Error(t, Authorize(req, "0000000000000000000000000000000000000000"))

	bare, err := http.NewRequest(http.MethodGet, "/dcap", nil)
	require.NoError(t, err)
	assert.Error(t, Authorize(bare, lfdi))
}
