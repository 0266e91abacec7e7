package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig holds the PEM paths for mutual TLS between P2P nodes. Leaving
// every path empty keeps the P2P transport on plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert" mapstructure:"ca_cert"`
	NodeCert string `json:"node_cert" mapstructure:"node_cert"`
	NodeKey  string `json:"node_key" mapstructure:"node_key"`
}

// Enabled reports whether any path is set.
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.NodeCert != "" || t.NodeKey != ""
}

func (t TLSConfig) validate() error {
	if t.Enabled() && (t.CACert == "" || t.NodeCert == "" || t.NodeKey == "") {
		return errors.New("tls: ca_cert, node_cert and node_key must be set together")
	}
	return nil
}

// LoadTLSConfig builds the mTLS configuration for the P2P listener and
// dialer. It returns (nil, nil) when TLS is not configured.
func LoadTLSConfig(t TLSConfig) (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(t.NodeCert, t.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load node cert/key: %w", err)
	}
	caPEM, err := os.ReadFile(t.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificate found in %s", t.CACert)
	}

	// Peers both dial and accept, so the same pool verifies either side.
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
