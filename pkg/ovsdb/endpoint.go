package ovsdb

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Endpoint is one parsed remote address such as tcp:127.0.0.1:6641, ssl:ovn:6642 or unix:/run/ovn/ovnnb_db.sock.
type Endpoint struct {
	Scheme  string
	Address string
}

func (e Endpoint) String() string { return e.Scheme + ":" + e.Address }

// ErrInvalidEndpoint is returned for connection strings that cannot be parsed.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// ParseEndpoints parses a comma separated list of endpoints.
func ParseEndpoints(connection string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, part := range strings.Split(connection, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scheme, address, found := strings.Cut(part, ":")
		if !found || address == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, part)
		}
		switch scheme {
		case "tcp", "ssl":
			if _, _, err := net.SplitHostPort(address); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, part, err)
			}
		case "unix":
		default:
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, scheme)
		}
		endpoints = append(endpoints, Endpoint{Scheme: scheme, Address: address})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: empty connection string", ErrInvalidEndpoint)
	}
	return endpoints, nil
}

// NeedsTLS reports whether any endpoint uses ssl.
func NeedsTLS(endpoints []Endpoint) bool {
	for _, endpoint := range endpoints {
		if endpoint.Scheme == "ssl" {
			return true
		}
	}
	return false
}

// LoadTLSConfig builds a client TLS configuration from PEM files.
func LoadTLSConfig(keyFile, certFile, caFile string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}
	caData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// DialEndpoints connects to the first reachable endpoint.
func DialEndpoints(ctx context.Context, endpoints []Endpoint, tlsConfig *tls.Config) (net.Conn, Endpoint, error) {
	var errs []error
	for _, endpoint := range endpoints {
		conn, err := dialEndpoint(ctx, endpoint, tlsConfig)
		if err == nil {
			return conn, endpoint, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
	}
	return nil, Endpoint{}, fmt.Errorf("%w: %w", ErrNotConnected, errors.Join(errs...))
}

func dialEndpoint(ctx context.Context, endpoint Endpoint, tlsConfig *tls.Config) (net.Conn, error) {
	var dialer net.Dialer
	switch endpoint.Scheme {
	case "unix":
		return dialer.DialContext(ctx, "unix", endpoint.Address)
	case "tcp":
		return dialer.DialContext(ctx, "tcp", endpoint.Address)
	case "ssl":
		if tlsConfig == nil {
			return nil, errors.New("ssl endpoint requires TLS configuration")
		}
		conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address)
		if err != nil {
			return nil, err
		}
		host, _, _ := net.SplitHostPort(endpoint.Address)
		config := tlsConfig.Clone()
		if config.ServerName == "" {
			config.ServerName = host
		}
		tlsConn := tls.Client(conn, config)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, endpoint.Scheme)
}
