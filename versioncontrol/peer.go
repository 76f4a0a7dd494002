package versioncontrol

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"
)

// Peer bundles a Core with a listening HTTP server, mirroring the teacher's
// own versioncontrol.Peer (started with Run, queried with Addr, torn down
// with Close). It is the reference adapter; application authors may instead
// mount NewHandler into their own server.
type Peer struct {
	log    *zap.Logger
	core   *Core
	server *http.Server

	listener net.Listener
}

// New constructs a Peer from Config, failing if the release catalogue does
// not validate (spec §4.2/testable property 4).
func New(log *zap.Logger, cfg Config) (*Peer, error) {
	core, err := NewCore(cfg)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	peer := &Peer{
		log:      log,
		core:     core,
		listener: listener,
	}
	peer.server = &http.Server{Handler: NewHandler(core, log)}
	return peer, nil
}

// Addr returns the address the Peer is listening on.
func (p *Peer) Addr() string {
	return p.listener.Addr().String()
}

// Core exposes the underlying transport-agnostic Core, e.g. to call
// SetMinimum before Run.
func (p *Peer) Core() *Core {
	return p.core
}

// Run serves HTTP requests until ctx is cancelled or Close is called.
func (p *Peer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.Serve(p.listener)
	}()

	select {
	case <-ctx.Done():
		return p.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return Error.Wrap(err)
	}
}

// Close shuts the Peer's HTTP server down.
func (p *Peer) Close() error {
	return Error.Wrap(p.server.Close())
}
