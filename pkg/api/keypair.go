package api

import (
	"crypto/x509"
	"encoding/pem"
)

// Certificate invalidity reasons reported by the check_certificate call.
// UserDisabled and CertificateDisabled are terminal for the session;
// every other reason triggers eviction and regeneration.
const (
	ReasonUserDisabled        = "user_disabled"
	ReasonCertificateDisabled = "certificate_disabled"
	ReasonUnknown             = "unknown"
)

// KeyPair is a per-server client credential: private key material plus
// the CA-signed certificate identifying this client to the server.
// At most one non-revoked KeyPair is current per server at any time.
type KeyPair struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	CommonName  string `json:"common_name,omitempty"`
	Valid       bool   `json:"valid"`
}

// ResolveCommonName fills CommonName from the certificate's subject
// when the server response did not carry it explicitly. A certificate
// that cannot be parsed leaves CommonName empty; validity checking
// then short-circuits to invalid.
func (k *KeyPair) ResolveCommonName() {
	if k.CommonName != "" {
		return
	}
	block, _ := pem.Decode([]byte(k.Certificate))
	if block == nil {
		return
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return
	}
	k.CommonName = cert.Subject.CommonName
}

// CreateKeyPairResponse is the wire shape of the create_keypair call.
type CreateKeyPairResponse struct {
	CreateKeyPair Envelope[KeyPair] `json:"create_keypair"`
}

// CertificateInfo is the server's verdict on a client certificate.
type CertificateInfo struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
}

// CheckCertificateResponse is the wire shape of the check_certificate call.
type CheckCertificateResponse struct {
	CheckCertificate Envelope[CertificateInfo] `json:"check_certificate"`
}
