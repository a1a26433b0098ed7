// Package identity generates and persists the self-signed TLS identity
// that gives every device a stable, CA-free fingerprint (C1).
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/protocol"
)

// Context holds the PEM-encoded certificate/key pair and the derived
// fingerprint. It is the unit that gets persisted to disk so the
// fingerprint survives process restarts.
type Context struct {
	PrivateKeyPEM  string            `json:"privateKey"`
	CertificatePEM string            `json:"certificate"`
	Fingerprint    model.Fingerprint `json:"fingerprint"`
}

// Generate creates a fresh RSA-2048 key and a one-year self-signed
// certificate with subject "LocalSend", and derives the fingerprint as
// hex(SHA-256(DER(SPKI))).
func Generate(alias string) (*Context, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("tls init: generate key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("tls init: generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"LocalSend"},
			CommonName:   alias,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("tls init: create certificate: %w", err)
	}

	spkiDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tls init: marshal public key: %w", err)
	}
	sum := sha256.Sum256(spkiDER)

	ctx := &Context{
		PrivateKeyPEM:  encodePrivateKey(priv),
		CertificatePEM: encodeCertificate(certDER),
		Fingerprint:    model.Fingerprint(hex.EncodeToString(sum[:])),
	}
	return ctx, nil
}

func encodePrivateKey(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

func encodeCertificate(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// TLSCertificate parses the stored PEM pair into a tls.Certificate
// suitable for an http.Server's TLSConfig.
func (c *Context) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair([]byte(c.CertificatePEM), []byte(c.PrivateKeyPEM))
}

// Save persists the context as indented JSON at path.
func Save(ctx *Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return protocol.Wrap(protocol.KindStorage, "create security context file", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ctx); err != nil {
		return protocol.Wrap(protocol.KindStorage, "encode security context", err)
	}
	return nil
}

// Load reads a previously saved context. Callers should Generate a new
// one on os.IsNotExist(err).
func Load(path string) (*Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ctx Context
	if err := json.NewDecoder(f).Decode(&ctx); err != nil {
		return nil, protocol.Wrap(protocol.KindStorage, "decode security context", err)
	}
	return &ctx, nil
}

// LoadOrGenerate loads the identity persisted at path, or generates and
// saves a fresh one if none exists yet — the fingerprint is stable
// across restarts only for the latter case onward.
func LoadOrGenerate(alias, path string) (*Context, error) {
	ctx, err := Load(path)
	if err == nil {
		return ctx, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	ctx, err = Generate(alias)
	if err != nil {
		return nil, err
	}
	if err := Save(ctx, path); err != nil {
		return nil, err
	}
	return ctx, nil
}
