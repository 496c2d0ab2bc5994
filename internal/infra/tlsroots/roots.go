package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertsFound is returned when a PEM source holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// LoadPool builds a pool from PEM files and directories. Directories
// contribute their .pem, .crt and .cer files.
func LoadPool(paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	total := 0
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			if files, err = certFiles(p); err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("tlsroots: %w", err)
			}
			n, err := AppendPEM(pool, data)
			if err != nil {
				return nil, fmt.Errorf("tlsroots: %s: %w", f, err)
			}
			total += n
		}
	}
	if total == 0 {
		return nil, ErrNoCertsFound
	}
	return pool, nil
}

func certFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt", ".cer":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// AppendPEM adds every CERTIFICATE block of data to pool and returns how
// many were added. Other block types are skipped.
func AppendPEM(pool *x509.CertPool, data []byte) (int, error) {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return n, fmt.Errorf("parse certificate: %w", err)
		}
		pool.AddCert(cert)
		n++
	}
	if n == 0 {
		return 0, ErrNoCertsFound
	}
	return n, nil
}

// ServerConfig serves the watched key pair. A non-nil clientCAs requires
// clients to present a certificate signed by one of them.
func ServerConfig(w *Watcher, clientCAs *x509.CertPool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig trusts roots, or the system pool when roots is nil, and
// presents the watched key pair when w is non-nil.
func ClientConfig(roots *x509.CertPool, w *Watcher) *tls.Config {
	cfg := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}
	if w != nil {
		cfg.GetClientCertificate = w.GetClientCertificate
	}
	return cfg
}
