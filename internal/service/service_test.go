package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coramini/relay-server-go/internal/clock"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/repository/memstore"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	clock    *clock.FakeClock
	presence *PresenceService
	commands *CommandService
	pairing  *PairingService
	chat     *ChatService
	tokens   *TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	clk := clock.Fake(testEpoch)

	tokens, err := NewTokenIssuer("test-secret-0123456789abcdef0123456789", clk)
	require.NoError(t, err)

	return &testEnv{
		clock:    clk,
		presence: NewPresenceService(memstore.NewPresenceRepository(store), clk, time.Minute),
		commands: NewCommandService(memstore.NewCommandRepository(store), clk),
		pairing: NewPairingService(
			memstore.NewPairingCodeRepository(store),
			memstore.NewDeviceRepository(store),
			tokens,
			clk,
			PairingServiceConfig{Prefix: "CORA", TTL: 5 * time.Minute},
		),
		chat:   NewChatService(memstore.NewChatRepository(store), clk),
		tokens: tokens,
	}
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.GetCode(err), "unexpected error: %v", err)
}
