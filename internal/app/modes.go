package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
	"github.com/alanyoungcy/iouledger/internal/node"
	"github.com/alanyoungcy/iouledger/internal/notary"
	"github.com/alanyoungcy/iouledger/internal/server"
	"github.com/alanyoungcy/iouledger/internal/server/handler"
	"github.com/alanyoungcy/iouledger/internal/server/ws"
	transport "github.com/alanyoungcy/iouledger/internal/transport/ws"
)

// NodeMode runs one networked participant: the responder loop (and the
// notary service when configured), the p2p endpoint and the read-only API.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode",
		slog.String("party", deps.Me.Name),
		slog.String("role", a.cfg.Node.Role),
	)

	p2p := transport.New(transport.Config{
		Self:   deps.Me,
		Peers:  a.peers(deps),
		Auth:   &crypto.PeerAuth{Secret: a.cfg.Network.Secret, MaxClockSkew: a.cfg.MaxClockSkew()},
		Logger: a.logger,
	})
	a.closers = append(a.closers, func() { _ = p2p.Close() })

	n := node.New(deps.Me, deps.Signer, deps.Vault, p2p, deps.NotaryParty, a.logger).
		WithTimeouts(a.cfg.SessionTimeout(), a.cfg.NotaryTimeout(), a.cfg.CashLockTTL()).
		WithLocks(deps.LockManager).
		WithBus(deps.SignalBus).
		WithEventLog(deps.EventLog).
		WithNotifier(deps.Notifier).
		WithMaxSessions(a.cfg.Node.MaxSessions)
	if deps.Archive != nil {
		n.WithArchive(deps.Archive)
	}
	if a.cfg.Node.Role == node.RoleNotary {
		svc, err := notary.NewService(deps.Me, deps.Signer, deps.Uniqueness, a.logger)
		if err != nil {
			return fmt.Errorf("app: notary service: %w", err)
		}
		n.WithNotaryService(svc)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.Serve(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, n, p2p)
	}

	return g.Wait()
}

// peers builds the transport address book: every configured peer plus the
// notary when this node is not it.
func (a *App) peers(deps *Dependencies) []transport.Peer {
	out := make([]transport.Peer, 0, len(a.cfg.Peers)+1)
	for _, p := range a.cfg.Peers {
		party := domain.Party{Name: p.Name, Address: common.HexToAddress(p.Address)}
		out = append(out, transport.Peer{Party: party, URL: p.URL})
	}
	if a.cfg.Node.Role != node.RoleNotary {
		out = append(out, transport.Peer{Party: deps.NotaryParty, URL: a.cfg.Notary.URL})
	}
	return out
}

// startHTTPServer adds an HTTP server goroutine to the given errgroup. It
// registers the p2p endpoint, the event hub and the read-only API. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	n *node.Node,
	p2p http.Handler,
) {
	health := handler.NewHealthHandler(a.logger)
	for name, check := range deps.Checks {
		health.WithCheck(name, check)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Party:     deps.Me.Name,
		Role:      n.Role(),
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	vh := handler.NewVaultHandler(n, a.logger)
	if deps.Archive != nil {
		vh.WithArchive(deps.Archive)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.RateLimitWindow(),
		CORSOrigins:     a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health: health,
		Status: handler.NewStatusHandler(a.cfg.Mode, n),
		Vault:  vh,
		Events: handler.NewEventsHandler(deps.EventLog, a.logger),
		P2P:    p2p,
		Hub:    hub,
	}, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("p2p", fmt.Sprintf("ws://localhost:%d%s", a.cfg.Server.Port, server.PathP2P)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// KeygenMode creates a fresh identity key and writes it, encrypted, to the
// configured key file.
func (a *App) KeygenMode(ctx context.Context) error {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	if err := crypto.WriteKeyFile(a.cfg.Identity.KeyFile, signer, a.cfg.Identity.KeyPassword); err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	a.logger.InfoContext(ctx, "identity key written",
		slog.String("path", a.cfg.Identity.KeyFile),
		slog.String("address", signer.Address().Hex()),
	)
	return nil
}
