package channel

import (
	"crypto/tls"

	"github.com/grpctestify/grpctestify/internal/certigo/lib"
)

// TLSOptions are the fields a .gctf TLS section can set.
type TLSOptions struct {
	InsecureSkipVerify bool
	CACertFile         string
	CACertFormat       string
	ClientCertFile     string
	ClientCertFormat   string
	ClientKeyFile      string
	ClientKeyFormat    string
	ClientKeyPassword  string
	ServerNameOverride string
}

// BuildClientTLSConfig builds a *tls.Config for a client channel from TLS
// section options. Delegates certificate/key loading to certigo's
// ClientTLSConfigV2 (vendored under internal/certigo/lib), which
// understands PEM, DER, PKCS12 and JCEKS certificate/key material.
func BuildClientTLSConfig(opts TLSOptions) (*tls.Config, error) {
	tlsConf, err := lib.ClientTLSConfigV2(
		opts.InsecureSkipVerify,
		opts.CACertFile, lib.NewCertificateKeyFormat(opts.CACertFormat),
		opts.ClientCertFile, lib.NewCertificateKeyFormat(opts.ClientCertFormat),
		opts.ClientKeyFile, lib.NewCertificateKeyFormat(opts.ClientKeyFormat),
		opts.ClientKeyPassword,
	)
	if err != nil {
		return nil, err
	}
	if opts.ServerNameOverride != "" {
		tlsConf.ServerName = opts.ServerNameOverride
	}
	return tlsConf, nil
}
