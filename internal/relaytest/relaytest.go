// Package relaytest starts an in-memory relay server for tests of the
// client side.
package relaytest

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coramini/relay-server-go/internal/clock"
	"github.com/coramini/relay-server-go/internal/handler"
	"github.com/coramini/relay-server-go/internal/middleware"
	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/repository/memstore"
	"github.com/coramini/relay-server-go/internal/service"
)

const Key = "relaytest-shared-key"

type Server struct {
	*httptest.Server
	// Clock drives server-side timestamps, presence and code expiry.
	Clock    *clock.FakeClock
	Store    *memstore.Store
	Pairing  *service.PairingService
	Commands *service.CommandService
}

// New starts a relay whose clock begins at a fixed instant. The server is
// closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	store := memstore.New()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	tokens, err := service.NewTokenIssuer("relaytest-secret-0123456789abcdef01", clk)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	pairing := service.NewPairingService(
		memstore.NewPairingCodeRepository(store),
		memstore.NewDeviceRepository(store),
		tokens,
		clk,
		service.PairingServiceConfig{Prefix: "CORA", TTL: 5 * time.Minute},
	)
	commands := service.NewCommandService(memstore.NewCommandRepository(store), clk)

	rpc := handler.NewRPCHandler(
		service.NewPresenceService(memstore.NewPresenceRepository(store), clk, time.Minute),
		commands,
		pairing,
		service.NewChatService(memstore.NewChatRepository(store), clk),
		nil,
	)

	auth := middleware.NewAuthMiddleware(Key, "", middleware.NewAuthFailureLimiter())

	r := chi.NewRouter()
	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(auth.Handler)
		r.Mount("/rpc", rpc.Routes())
	})

	srv := &Server{
		Server:   httptest.NewServer(r),
		Clock:    clk,
		Store:    store,
		Pairing:  pairing,
		Commands: commands,
	}
	t.Cleanup(srv.Close)
	return srv
}

// Client returns a relay client authenticated against s.
func (s *Server) Client() *relayclient.Client {
	return relayclient.New(relayclient.Options{BaseURL: s.URL, Key: Key, Timeout: 5 * time.Second})
}
