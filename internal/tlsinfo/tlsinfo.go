// Package tlsinfo surfaces human-facing diagnostics for a .gctf TLS section,
// built on the vendored certigo library for certificate file handling.
package tlsinfo

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/grpctestify/grpctestify/internal/certigo/lib"
	"github.com/grpctestify/grpctestify/internal/channel"
)

// Check validates the files a TLS section references, without attempting a
// live handshake: missing files, undetectable formats, and (for DER-encoded
// client certs only) expired certificates are reported as one-line causes the
// runner can attach to a TransportError.
func Check(opts channel.TLSOptions) []string {
	var problems []string
	problems = append(problems, checkFile(opts.CACertFile, opts.CACertFormat)...)
	problems = append(problems, checkFile(opts.ClientCertFile, opts.ClientCertFormat)...)
	if opts.ClientCertFile != "" {
		if expiry, err := certExpiry(opts.ClientCertFile); err == nil && time.Now().After(expiry) {
			problems = append(problems, fmt.Sprintf("client certificate %q expired at %s", opts.ClientCertFile, expiry.Format(time.RFC3339)))
		}
	}
	return problems
}

func checkFile(path, format string) []string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return []string{fmt.Sprintf("cannot read %q: %v", path, err)}
	}
	if _, err := lib.GuessFormatForFile(path, lib.NewCertificateKeyFormat(format)); err != nil {
		return []string{fmt.Sprintf("cannot determine certificate format for %q: %v", path, err)}
	}
	return nil
}

func certExpiry(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		// Not DER; PEM-wrapped certs are validated at dial time by
		// tls.LoadX509KeyPair / ClientTLSConfigV2 instead.
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}
