// Description: keys package
// This package generates the SSH host key of the sftp view when none is configured.

package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// GeneratesRSAKeys generates a new RSA key pair and returns the private and public keys in PEM format.
func GeneratesRSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {

	// Safeguard: Only allow certain key sizes.
	validBitSizes := map[int]bool{2048: true, 3072: true, 4096: true}
	if !validBitSizes[bitSize] {
		return nil, nil, fmt.Errorf("invalid bit size: %d", bitSize)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating RSA private key: %w", err)
	}

	privateKeyFile = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling RSA public key: %w", err)
	}
	publicKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyDER})

	return privateKeyFile, publicKeyFile, nil
}

// GeneratesECDSAKeys generates a new ECDSA key pair and returns the private and public keys in PEM format.
func GeneratesECDSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {
	var curve elliptic.Curve

	switch bitSize {
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		return nil, nil, fmt.Errorf("invalid bit size: %d", bitSize)
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating ECDSA private key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ECDSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ECDSA public key: %w", err)
	}
	publicKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes})

	return privateKeyFile, publicKeyFile, nil
}

// GeneratesED25519Keys generates a new EdDSA key pair and returns the private and public keys in PEM format.
func GeneratesED25519Keys() (privateKeyFile, publicKeyFile []byte, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating ED25519 private key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ED25519 private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ED25519 public key: %w", err)
	}
	publicKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes})
	return privateKeyFile, publicKeyFile, nil
}

// Generate creates a private key of the given kind: "ed25519" (the default), "rsa" or "ecdsa".
func Generate(kind string) ([]byte, error) {
	var (
		pk  []byte
		err error
	)
	switch strings.ToLower(kind) {
	case "", "ed25519":
		pk, _, err = GeneratesED25519Keys()
	case "rsa":
		pk, _, err = GeneratesRSAKeys(2048)
	case "ecdsa":
		pk, _, err = GeneratesECDSAKeys(256)
	default:
		err = fmt.Errorf("unknown key type %q", kind)
	}
	return pk, err
}

// HostSigner parses a PEM private key into an SSH host key.
func HostSigner(privateKey []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}
	return signer, nil
}

// LoadOrGenerate reads the private key at path. When path is empty a key of the given kind
// is generated for this run only.
func LoadOrGenerate(path, kind string) (ssh.Signer, error) {
	if path == "" {
		pk, err := Generate(kind)
		if err != nil {
			return nil, err
		}
		return HostSigner(pk)
	}

	pk, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading private key file: %w", err)
	}
	return HostSigner(pk)
}
