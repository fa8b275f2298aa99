package api

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedCertPEM issues a throwaway certificate with the given
// common name.
func selfSignedCertPEM(t *testing.T, commonName string) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestKeyPair_ResolveCommonName(t *testing.T) {
	t.Run("extracts from certificate subject", func(t *testing.T) {
		kp := KeyPair{Certificate: selfSignedCertPEM(t, "client-42")}
		kp.ResolveCommonName()
		assert.Equal(t, "client-42", kp.CommonName)
	})

	t.Run("keeps explicit common name", func(t *testing.T) {
		kp := KeyPair{
			Certificate: selfSignedCertPEM(t, "from-cert"),
			CommonName:  "from-server",
		}
		kp.ResolveCommonName()
		assert.Equal(t, "from-server", kp.CommonName)
	})

	t.Run("unparseable certificate leaves it empty", func(t *testing.T) {
		kp := KeyPair{Certificate: "not a pem block"}
		kp.ResolveCommonName()
		assert.Empty(t, kp.CommonName)
	})
}
