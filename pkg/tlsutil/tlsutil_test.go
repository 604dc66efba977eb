package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert returns a self-signed certificate usable as both client
// certificate and CA.
func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

func writeMaterial(t *testing.T) MTLSConfig {
	t.Helper()
	dir := t.TempDir()

	certPEM, keyPEM := generateTestCert(t, "SmartMeter01")
	cfg := MTLSConfig{
		CAFile:   filepath.Join(dir, "root-ca.pem"),
		CertFile: filepath.Join(dir, "cert.pem"),
		KeyFile:  filepath.Join(dir, "key.pem"),
	}
	require.NoError(t, os.WriteFile(cfg.CAFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(cfg.CertFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(cfg.KeyFile, keyPEM, 0600))
	return cfg
}

func TestLoadClientMTLS(t *testing.T) {
	cfg := writeMaterial(t)

	tlsConfig, err := LoadClientMTLS(cfg)
	require.NoError(t, err)

	require.Len(t, tlsConfig.Certificates, 1)
	assert.NotNil(t, tlsConfig.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.False(t, tlsConfig.InsecureSkipVerify)
}

func TestLoadClientMTLS_TLS13(t *testing.T) {
	cfg := writeMaterial(t)
	cfg.MinVersion = "1.3"

	tlsConfig, err := LoadClientMTLS(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
}

func TestLoadClientMTLS_Errors(t *testing.T) {
	t.Run("missing key path", func(t *testing.T) {
		cfg := writeMaterial(t)
		cfg.KeyFile = ""
		_, err := LoadClientMTLS(cfg)
		require.Error(t, err)
	})

	t.Run("missing CA file", func(t *testing.T) {
		cfg := writeMaterial(t)
		cfg.CAFile = filepath.Join(t.TempDir(), "absent.pem")
		_, err := LoadClientMTLS(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("garbage CA file", func(t *testing.T) {
		cfg := writeMaterial(t)
		require.NoError(t, os.WriteFile(cfg.CAFile, []byte("not a certificate"), 0644))
		_, err := LoadClientMTLS(cfg)
		assert.ErrorIs(t, err, ErrInvalidPEM)
	})

	t.Run("key does not match certificate", func(t *testing.T) {
		cfg := writeMaterial(t)
		_, otherKey := generateTestCert(t, "other")
		require.NoError(t, os.WriteFile(cfg.KeyFile, otherKey, 0600))
		_, err := LoadClientMTLS(cfg)
		require.Error(t, err)
	})
}
