package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/atelier.space/internal/platform/config"
	"github.com/louisbranch/atelier.space/internal/services/collab/identity"
	"github.com/louisbranch/atelier.space/internal/services/collab/ledger"
	"github.com/louisbranch/atelier.space/internal/services/collab/notify"
	collabsqlite "github.com/louisbranch/atelier.space/internal/services/collab/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// claimSweepInterval is how often the recovery sweep looks for orphaned
	// slot claims.
	claimSweepInterval = time.Minute
	// claimGraceWindow is how long a claim may sit without an accepted
	// application before the sweep treats it as orphaned.
	claimGraceWindow = 5 * time.Minute
)

type serverEnv struct {
	DBPath string `env:"ATELIER_SPACE_COLLAB_DB_PATH"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "collab.db")
	}
	return cfg
}

// Server hosts the collab service runtime: the admission service, its
// storage lifecycle, the orphaned-claim recovery sweep, and a gRPC health
// endpoint.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *collabsqlite.Store
	service    *Service
	ledger     *ledger.Ledger
}

// New creates a configured collab server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured collab server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	env := loadServerEnv()
	store, err := openCollabStore(env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	slotLedger := ledger.New(store, nil, nil)
	notifier := notify.New(notify.LogSink(), nil)
	service := NewService(store, slotLedger, notifier, nil, nil)

	// The interceptor guards every non-health RPC registered on this server.
	// Until the admission operations are mounted as a gRPC service, only the
	// health service is registered and it is exempt, so the grant path is
	// exercised solely by future RPC registrations.
	serverOpts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if strings.TrimSpace(os.Getenv(identity.EnvAccessGrantPublicKey)) != "" {
		grantCfg, err := identity.LoadConfigFromEnv(nil)
		if err != nil {
			_ = store.Close()
			_ = listener.Close()
			return nil, fmt.Errorf("load access grant config: %w", err)
		}
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(identity.UnaryServerInterceptor(identity.NewVerifier(grantCfg))))
	} else {
		log.Printf("access grant verification disabled: %s is not set", identity.EnvAccessGrantPublicKey)
	}

	grpcServer := grpc.NewServer(serverOpts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("collab.v1.CollabService", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		service:    service,
		ledger:     slotLedger,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Service returns the admission service hosted by the server.
func (s *Server) Service() *Service {
	if s == nil {
		return nil
	}
	return s.service
}

// Run creates and serves a collab server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server and the recovery sweep until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.runClaimSweep(sweepCtx)

	log.Printf("collab server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// runClaimSweep periodically releases orphaned slot claims left behind by
// crashes between a claim and its application status commit.
func (s *Server) runClaimSweep(ctx context.Context) {
	ticker := time.NewTicker(claimSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := s.ledger.ReleaseOrphanedClaims(ctx, claimGraceWindow)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("release orphaned claims: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("released %d orphaned slot claims", released)
			}
		}
	}
}

// Close releases collab server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close collab store: %v", err)
		}
	}
}

func openCollabStore(path string) (*collabsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := collabsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open collab sqlite store: %w", err)
	}
	return store, nil
}
