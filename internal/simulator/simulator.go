// Package simulator wires the service description, the dispatch bus and the
// publish endpoint into one server.
package simulator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"offline-sns/internal/config"
	"offline-sns/internal/core/network"
	"offline-sns/internal/lambda"
	"offline-sns/internal/logging"
	"offline-sns/internal/metrics"
	"offline-sns/internal/serverless"
	"offline-sns/internal/sns"
	"offline-sns/internal/snsapi"
)

var (
	ErrAlreadyListening = errors.New("simulator already listening")
	ErrClosed           = errors.New("simulator closed")
)

type Options struct {
	Config config.Config
	// Service is used as is when set; otherwise Config.ServiceFile is loaded.
	Service *serverless.Service
	// Funcs are in-process handlers keyed by handler string or function name.
	Funcs  map[string]lambda.HandlerFunc
	Logger logging.Logger
	// Output receives the output of command handlers.
	Output io.Writer
}

// Simulator owns one registry, bus and HTTP server. Several can run in one
// process.
type Simulator struct {
	cfg      config.Config
	log      logging.Logger
	registry *sns.Registry
	bus      network.PubSub
	relay    *sns.Relay
	handler  http.Handler

	mu     sync.Mutex
	srv    *http.Server
	addr   net.Addr
	closed bool
}

func New(ctx context.Context, opts Options) (*Simulator, error) {
	logger := logging.OrNop(opts.Logger)
	svc := opts.Service
	if svc == nil {
		loaded, err := serverless.Load(opts.Config.ServiceFile)
		if err != nil {
			return nil, err
		}
		svc = loaded
	}

	bus, err := network.New(ctx, network.Options{
		Kind:   opts.Config.Bus,
		Logger: logger,
		Libp2p: network.Libp2pOptions{
			ListenAddrs: opts.Config.BusListen,
			Bootstrap:   opts.Config.BusBootstrap,
			Rendezvous:  "offline-sns",
			EnableMDNS:  opts.Config.BusMDNS,

			IdentityKeyFile: opts.Config.BusKeyFile,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bus: %w", err)
	}
	if p2p, ok := bus.(*network.Libp2pPubSub); ok {
		logger.Log(fmt.Sprintf("libp2p bus %s on %s", p2p.PeerID(), strings.Join(p2p.ListenAddrs(), ",")), nil)
	}

	rec := metrics.New()
	registry := sns.BuildRegistry(svc, logger)
	factory := lambda.NewFactory(lambda.Options{
		ServiceDir: svc.Dir,
		Location:   opts.Config.Location,
		Funcs:      opts.Funcs,
		Output:     opts.Output,
		Region:     svc.Provider.Region,
	})
	dispatcher := sns.NewDispatcher(registry, factory, logger, rec)
	relay, err := sns.NewRelay(bus, dispatcher, logger)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	r := mux.NewRouter()
	snsapi.NewServer(relay, snsapi.Options{
		Logger:      logger,
		Metrics:     rec,
		CORSOrigins: opts.Config.CORSOrigins,
	}).Register(r)

	return &Simulator{
		cfg:      opts.Config,
		log:      logger,
		registry: registry,
		bus:      bus,
		relay:    relay,
		handler:  r,
	}, nil
}

// Handler is the HTTP surface, for mounting without Listen.
func (s *Simulator) Handler() http.Handler {
	return s.handler
}

func (s *Simulator) Registry() *sns.Registry {
	return s.registry
}

// Listen binds the configured address and serves in the background. With a
// certificate directory configured it serves TLS from cert.pem and key.pem.
func (s *Simulator) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.srv != nil {
		return ErrAlreadyListening
	}

	var tlsCfg *tls.Config
	if s.cfg.HTTPSDir != "" {
		cert, err := tls.LoadX509KeyPair(
			filepath.Join(s.cfg.HTTPSDir, "cert.pem"),
			filepath.Join(s.cfg.HTTPSDir, "key.pem"),
		)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.srv = srv
	s.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Log("http server stopped", err)
		}
	}()

	s.log.Log(fmt.Sprintf("Offline SNS listening on %s://%s", s.cfg.Scheme(), s.urlHostLocked()), nil)
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *Simulator) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL is the base URL publishers should use, or empty before Listen.
func (s *Simulator) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.cfg.Scheme() + "://" + s.urlHostLocked()
}

func (s *Simulator) urlHostLocked() string {
	port := s.cfg.Port
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	host := s.cfg.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Close stops accepting requests, waits for in-flight dispatch passes until
// ctx is done and releases the bus.
func (s *Simulator) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.srv
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}
	if err := s.relay.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close relay: %w", err))
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	s.log.Log("Offline SNS stopped", nil)
	return errors.Join(errs...)
}
