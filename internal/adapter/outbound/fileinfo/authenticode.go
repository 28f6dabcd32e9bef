package fileinfo

import (
	"crypto/sha1" //nolint:gosec // thumbprints are SHA-1 by definition
	"crypto/x509"
	"debug/pe"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

const (
	// securityDirectory is IMAGE_DIRECTORY_ENTRY_SECURITY. Its
	// VirtualAddress is a file offset, not an RVA.
	securityDirectory = 4
	// certTypePKCSSignedData is WIN_CERT_TYPE_PKCS_SIGNED_DATA.
	certTypePKCSSignedData = 0x0002
	winCertHeaderSize      = 8
	maxCertificateTable    = 4 << 20
)

var oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	ContentInfo      asn1.RawValue
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
}

// readWinCertificate returns the PKCS#7 blob of the first WIN_CERTIFICATE.
func readWinCertificate(r io.ReaderAt) ([]byte, error) {
	pf, err := pe.NewFile(r)
	if err != nil {
		return nil, policy.ErrUnsigned
	}
	defer pf.Close()

	var dir pe.DataDirectory
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= securityDirectory {
			return nil, policy.ErrUnsigned
		}
		dir = oh.DataDirectory[securityDirectory]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= securityDirectory {
			return nil, policy.ErrUnsigned
		}
		dir = oh.DataDirectory[securityDirectory]
	default:
		return nil, policy.ErrUnsigned
	}
	if dir.VirtualAddress == 0 || dir.Size < winCertHeaderSize {
		return nil, policy.ErrUnsigned
	}
	if dir.Size > maxCertificateTable {
		return nil, fmt.Errorf("certificate table too large: %d bytes", dir.Size)
	}

	table := make([]byte, dir.Size)
	if _, err := r.ReadAt(table, int64(dir.VirtualAddress)); err != nil {
		return nil, fmt.Errorf("read certificate table: %w", err)
	}
	return parseWinCertificate(table)
}

func parseWinCertificate(table []byte) ([]byte, error) {
	if len(table) < winCertHeaderSize {
		return nil, policy.ErrUnsigned
	}
	length := binary.LittleEndian.Uint32(table[0:4])
	certType := binary.LittleEndian.Uint16(table[6:8])
	if certType != certTypePKCSSignedData {
		return nil, policy.ErrUnsigned
	}
	if length < winCertHeaderSize || int(length) > len(table) {
		return nil, fmt.Errorf("malformed WIN_CERTIFICATE length %d", length)
	}
	return table[winCertHeaderSize:length], nil
}

// signerFromPKCS7 picks the code-signing leaf out of a SignedData blob.
func signerFromPKCS7(der []byte) (policy.Signer, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return policy.Signer{}, fmt.Errorf("parse content info: %w", err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return policy.Signer{}, fmt.Errorf("unexpected content type %s", ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return policy.Signer{}, fmt.Errorf("parse signed data: %w", err)
	}
	if len(sd.Certificates.Bytes) == 0 {
		return policy.Signer{}, policy.ErrUnsigned
	}

	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil {
		return policy.Signer{}, fmt.Errorf("parse certificates: %w", err)
	}
	leaf := pickLeaf(certs)
	if leaf == nil {
		return policy.Signer{}, errors.New("signed data has no certificates")
	}

	sum := sha1.Sum(leaf.Raw) //nolint:gosec
	return policy.Signer{
		Thumbprint: strings.ToUpper(hex.EncodeToString(sum[:])),
		Publisher:  leaf.Subject.CommonName,
	}, nil
}

// pickLeaf prefers a code-signing certificate, then any non-CA
// certificate, then the first one.
func pickLeaf(certs []*x509.Certificate) *x509.Certificate {
	if len(certs) == 0 {
		return nil
	}
	for _, c := range certs {
		if c.IsCA {
			continue
		}
		for _, u := range c.ExtKeyUsage {
			if u == x509.ExtKeyUsageCodeSigning {
				return c
			}
		}
	}
	for _, c := range certs {
		if !c.IsCA {
			return c
		}
	}
	return certs[0]
}
