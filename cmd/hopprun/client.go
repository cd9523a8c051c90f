package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"
)

// clientOptions are the transport flags of the test command.
type clientOptions struct {
	Insecure         bool
	CACert           string
	IgnoreTruststore bool
	ClientCertConfig string
	NoProxy          bool
	DisableCookies   bool
	Timeout          time.Duration
}

func newHTTPClient(o clientOptions) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: o.Insecure} //nolint:gosec // user opted in

	if o.CACert != "" {
		pemData, err := os.ReadFile(o.CACert)
		if err != nil {
			return nil, fmt.Errorf("read cacert: %w", err)
		}
		pool := x509.NewCertPool()
		if !o.IgnoreTruststore {
			if sys, err := x509.SystemCertPool(); err == nil {
				pool = sys
			}
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("append CA cert %s: no certificates found", o.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	if o.ClientCertConfig != "" {
		certPath, keyPath, err := readClientCertConfig(o.ClientCertConfig)
		if err != nil {
			return nil, err
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	tr := &http.Transport{TLSClientConfig: tlsConfig}
	if !o.NoProxy {
		tr.Proxy = http.ProxyFromEnvironment
	}
	client := &http.Client{Transport: tr, Timeout: o.Timeout}
	if !o.DisableCookies {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client, nil
}

// readClientCertConfig reads {"cert": "...", "key": "..."}; relative paths
// are resolved against the config file's directory.
func readClientCertConfig(path string) (certPath, keyPath string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read client-cert-config: %w", err)
	}
	var cfg struct {
		Cert string `json:"cert"`
		Key  string `json:"key"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", "", fmt.Errorf("parse client-cert-config: %w", err)
	}
	if cfg.Cert == "" || cfg.Key == "" {
		return "", "", fmt.Errorf("client-cert-config requires cert/key")
	}
	return resolveRelative(path, cfg.Cert), resolveRelative(path, cfg.Key), nil
}

func resolveRelative(cfgPath, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(cfgPath), target)
}
