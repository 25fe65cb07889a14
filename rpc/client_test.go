package rpc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"
)

func writeSelfSignedCert(t *testing.T) string {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NilError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "hepir test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NilError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	f, err := os.Create(path)
	assert.NilError(t, err)
	defer f.Close()
	assert.NilError(t, pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return path
}

func TestClientTLSConfig(t *testing.T) {
	config, err := ClientTLSConfig("")
	assert.NilError(t, err)
	assert.Assert(t, config.InsecureSkipVerify)

	config, err = ClientTLSConfig(writeSelfSignedCert(t))
	assert.NilError(t, err)
	assert.Assert(t, !config.InsecureSkipVerify)
	assert.Assert(t, config.RootCAs != nil)
}

func TestClientTLSConfigBadFile(t *testing.T) {
	_, err := ClientTLSConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Assert(t, err != nil)

	path := filepath.Join(t.TempDir(), "garbage.pem")
	assert.NilError(t, os.WriteFile(path, []byte("not a certificate"), 0644))
	_, err = ClientTLSConfig(path)
	assert.ErrorContains(t, err, "no PEM certificates")

	_, err = NewClientProxy("localhost:1", true, path, true)
	assert.Assert(t, err != nil)
}
