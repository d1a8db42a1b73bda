package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-logr/logr"

	"ovndbsync/pkg/adapters"
	"ovndbsync/pkg/core"
	"ovndbsync/pkg/mirror"
	"ovndbsync/pkg/ovsdb"
)

// hostService is the collaborator set the host orchestration service provides.
type hostService interface {
	adapters.DesiredState
	adapters.Callbacks
}

// newHostService prefers the REST API and falls back to a snapshot file.
func newHostService(cfg *core.Config, logger logr.Logger) (hostService, error) {
	if cfg.Host.APIURL != "" {
		return adapters.NewRESTClient(cfg.Host.APIURL, cfg.Host.Token, cfg.Host.RequestTimeout.Duration), nil
	}
	snapshot, err := adapters.LoadSnapshotFile(cfg.Host.SnapshotFile, logger.WithName("snapshot"))
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func tlsFor(connection, key, cert, ca string) (*tls.Config, error) {
	endpoints, err := ovsdb.ParseEndpoints(connection)
	if err != nil {
		return nil, err
	}
	if !ovsdb.NeedsTLS(endpoints) {
		return nil, nil
	}
	return ovsdb.LoadTLSConfig(key, cert, ca)
}

func northboundOptions(cfg *core.Config, logger logr.Logger) (mirror.Options, error) {
	tlsConfig, err := tlsFor(cfg.OVN.NBConnection, cfg.OVN.NBPrivateKey, cfg.OVN.NBCertificate, cfg.OVN.NBCACert)
	if err != nil {
		return mirror.Options{}, fmt.Errorf("northbound tls: %w", err)
	}
	return mirror.Options{
		Database: core.NorthboundDatabase,
		Endpoint: cfg.OVN.NBConnection,
		Tables:   core.NorthboundTables,
		TLS:      tlsConfig,
		Logger:   logger.WithName("nb"),
	}, nil
}

func southboundOptions(cfg *core.Config, logger logr.Logger) (mirror.Options, error) {
	tlsConfig, err := tlsFor(cfg.OVN.SBConnection, cfg.OVN.SBPrivateKey, cfg.OVN.SBCertificate, cfg.OVN.SBCACert)
	if err != nil {
		return mirror.Options{}, fmt.Errorf("southbound tls: %w", err)
	}
	return mirror.Options{
		Database: core.SouthboundDatabase,
		Endpoint: cfg.OVN.SBConnection,
		Tables:   core.SouthboundTables,
		TLS:      tlsConfig,
		Logger:   logger.WithName("sb"),
	}, nil
}

func connect(ctx context.Context, opts mirror.Options, timeout core.Duration) (*mirror.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.Duration)
	defer cancel()
	conn, err := mirror.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Database, err)
	}
	return conn, nil
}
