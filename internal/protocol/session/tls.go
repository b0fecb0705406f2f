package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSCertFileRequired = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("session: tls key file required")
)

// TLSConfig customizes the HTTPS transport used for the event stream and
// call POSTs. The zero value uses the system roots.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

func (c TLSConfig) IsZero() bool {
	return strings.TrimSpace(c.CAFile) == "" &&
		strings.TrimSpace(c.CertFile) == "" &&
		strings.TrimSpace(c.KeyFile) == "" &&
		strings.TrimSpace(c.ServerName) == "" &&
		!c.InsecureSkipVerify
}

func (c TLSConfig) Validate() error {
	cert := strings.TrimSpace(c.CertFile)
	key := strings.TrimSpace(c.KeyFile)
	if cert != "" && key == "" {
		return ErrTLSKeyFileRequired
	}
	if key != "" && cert == "" {
		return ErrTLSCertFileRequired
	}
	return nil
}

// ClientConfig builds the *tls.Config for the HTTP transport. It returns nil
// when no customization is configured.
func (c TLSConfig) ClientConfig() (*tls.Config, error) {
	if c.IsZero() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(c.ServerName),
	}

	if caPath := strings.TrimSpace(c.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if certPath := strings.TrimSpace(c.CertFile); certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, strings.TrimSpace(c.KeyFile))
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
