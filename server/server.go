package server

import (
	"errors"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/ski/manifest"
	"github.com/chazu/ski/vm"
)

var serverLog = commonlog.GetLogger("ski.server")

// SkiServer serves the reduction service over Connect (HTTP/1.1 and HTTP/2)
// and gRPC on the same port. HTTP/2 is accepted without TLS so plain gRPC
// clients can connect.
type SkiServer struct {
	worker     *StoreWorker
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerOption configures a SkiServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	storeOpts []vm.StoreOption
	maxSteps  int
	style     vm.Style
	handler   []connect.HandlerOption
}

// WithStoreOptions sets the options of the store every request runs on.
func WithStoreOptions(opts ...vm.StoreOption) ServerOption {
	return func(c *serverConfig) { c.storeOpts = append(c.storeOpts, opts...) }
}

// WithMaxSteps bounds each reduction. Zero means unbounded.
func WithMaxSteps(n int) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// WithStyle sets the print style of returned forms.
func WithStyle(st vm.Style) ServerOption {
	return func(c *serverConfig) { c.style = st }
}

// WithHandlerOptions passes options to every Connect handler.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handler = append(c.handler, opts...) }
}

// WithManifest applies the heap, print and server sections of m.
func WithManifest(m *manifest.Manifest) ServerOption {
	return func(c *serverConfig) {
		c.storeOpts = append(c.storeOpts, m.StoreOptions()...)
		c.maxSteps = m.Server.MaxSteps
		c.style = m.Style()
	}
}

// New creates a SkiServer.
func New(opts ...ServerOption) *SkiServer {
	cfg := &serverConfig{
		maxSteps: manifest.DefaultServerMaxSteps,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewStoreWorker(cfg.storeOpts...)
	s := &SkiServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}

	reduceSvc := NewReductionService(worker, cfg.maxSteps, cfg.style)
	path, handler := reduceSvc.Handler(cfg.handler...)
	s.mux.Handle(path, handler)

	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.httpServer = &http.Server{
		Handler:   s.mux,
		Protocols: &protocols,
	}

	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *SkiServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *SkiServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *SkiServer) Serve(lis net.Listener) error {
	addr := lis.Addr().String()
	serverLog.Noticef("ski reduction server listening on %s", addr)
	serverLog.Infof("Connect (HTTP/JSON): http://%s%s", addr, ReduceProcedure)
	serverLog.Infof("gRPC (h2c):          grpc://%s", addr)

	err := s.httpServer.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the server.
func (s *SkiServer) Stop() {
	if err := s.httpServer.Close(); err != nil {
		serverLog.Errorf("close: %s", err)
	}
	s.worker.Stop()
}

// NewH2CClient returns an HTTP client that speaks HTTP/2 without TLS, as
// gRPC-protocol clients of a SkiServer need.
func NewH2CClient() *http.Client {
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)
	return &http.Client{
		Transport: &http.Transport{Protocols: &protocols},
	}
}
