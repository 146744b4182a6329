package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCommandRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("claims oldest pending first up to limit", func(t *testing.T) {
		repo := NewCommandRepository(New())
		var ids []string
		for i := 0; i < 10; i++ {
			cmd, err := repo.Create(ctx, model.CreateCommandParams{
				ID:        uuid.NewString(),
				AnchorID:  "anchor-a",
				Command:   fmt.Sprintf("cmd-%d", i),
				Params:    json.RawMessage(`{}`),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
			ids = append(ids, cmd.ID)
		}

		claimed, err := repo.ClaimPending(ctx, model.ClaimCommandsParams{
			AnchorID: "anchor-a", Limit: 5, ClaimedBy: "host:1", Now: base.Add(time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, claimed, 5)
		for i, cmd := range claimed {
			assert.Equal(t, ids[i], cmd.ID)
			assert.Equal(t, model.CommandStatusRunning, cmd.Status)
			require.NotNil(t, cmd.ClaimedBy)
			assert.Equal(t, "host:1", *cmd.ClaimedBy)
		}

		next, err := repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "anchor-a", Limit: 5, Now: base})
		require.NoError(t, err)
		require.Len(t, next, 5)
		assert.Equal(t, ids[5], next[0].ID)
	})

	t.Run("ties on created_at keep insertion order", func(t *testing.T) {
		repo := NewCommandRepository(New())
		first, _ := repo.Create(ctx, model.CreateCommandParams{ID: "a", AnchorID: "x", Command: "one", CreatedAt: base})
		second, _ := repo.Create(ctx, model.CreateCommandParams{ID: "b", AnchorID: "x", Command: "two", CreatedAt: base})

		claimed, err := repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "x", Limit: 2, Now: base})
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, first.ID, claimed[0].ID)
		assert.Equal(t, second.ID, claimed[1].ID)
	})

	t.Run("concurrent claimers never share a command", func(t *testing.T) {
		repo := NewCommandRepository(New())
		for i := 0; i < 40; i++ {
			_, err := repo.Create(ctx, model.CreateCommandParams{
				ID: uuid.NewString(), AnchorID: "anchor-a", Command: "c", CreatedAt: base.Add(time.Duration(i)),
			})
			require.NoError(t, err)
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					cmds, err := repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "anchor-a", Limit: 3, Now: base})
					if err != nil || len(cmds) == 0 {
						return
					}
					mu.Lock()
					for _, c := range cmds {
						seen[c.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 40)
		for id, n := range seen {
			assert.Equal(t, 1, n, "command %s claimed %d times", id, n)
		}
	})

	t.Run("finish is idempotent and only from running", func(t *testing.T) {
		repo := NewCommandRepository(New())
		cmd, _ := repo.Create(ctx, model.CreateCommandParams{ID: "c1", AnchorID: "x", Command: "echo", CreatedAt: base})

		got, ok, err := repo.Finish(ctx, model.FinishCommandParams{ID: cmd.ID, Status: model.CommandStatusDone, Now: base})
		require.NoError(t, err)
		assert.False(t, ok, "pending command cannot finish")
		assert.Equal(t, model.CommandStatusPending, got.Status)

		_, err = repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "x", Limit: 1, Now: base})
		require.NoError(t, err)

		got, ok, err = repo.Finish(ctx, model.FinishCommandParams{
			ID: cmd.ID, Status: model.CommandStatusDone, Result: json.RawMessage(`{"v":1}`), Now: base.Add(time.Second),
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, model.CommandStatusDone, got.Status)

		got, ok, err = repo.Finish(ctx, model.FinishCommandParams{
			ID: cmd.ID, Status: model.CommandStatusError, Result: json.RawMessage(`{"error":"late"}`), Now: base.Add(2 * time.Second),
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, model.CommandStatusDone, got.Status)
		assert.JSONEq(t, `{"v":1}`, string(*got.Result))
	})

	t.Run("finish unknown id returns nil", func(t *testing.T) {
		repo := NewCommandRepository(New())
		got, ok, err := repo.Finish(ctx, model.FinishCommandParams{ID: "missing", Status: model.CommandStatusDone})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("fail stale only touches old running commands", func(t *testing.T) {
		repo := NewCommandRepository(New())
		repo.Create(ctx, model.CreateCommandParams{ID: "old", AnchorID: "x", CreatedAt: base})
		repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "x", Limit: 1, Now: base})
		repo.Create(ctx, model.CreateCommandParams{ID: "new", AnchorID: "x", CreatedAt: base.Add(time.Second)})
		repo.ClaimPending(ctx, model.ClaimCommandsParams{AnchorID: "x", Limit: 1, Now: base.Add(20 * time.Minute)})
		repo.Create(ctx, model.CreateCommandParams{ID: "queued", AnchorID: "x", CreatedAt: base.Add(2 * time.Second)})

		n, err := repo.FailStale(ctx, base.Add(10*time.Minute), json.RawMessage(`{"error":"execution lease expired"}`), base.Add(21*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		old, _ := repo.FindByID(ctx, "old")
		assert.Equal(t, model.CommandStatusError, old.Status)
		fresh, _ := repo.FindByID(ctx, "new")
		assert.Equal(t, model.CommandStatusRunning, fresh.Status)
		queued, _ := repo.FindByID(ctx, "queued")
		assert.Equal(t, model.CommandStatusPending, queued.Status)
	})
}

func TestPairingCodeRepository(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, repo repository.PairingCodeRepository, code, anchor string) *model.PairingCode {
		t.Helper()
		pc, err := repo.Replace(ctx, model.CreatePairingCodeParams{
			Code: code, AnchorID: anchor, AnchorName: "Desk", CreatedAt: base, ExpiresAt: base.Add(5 * time.Minute),
		})
		require.NoError(t, err)
		return pc
	}

	begin := func(repo repository.PairingCodeRepository, code, email, hash string, now time.Time) (*model.BeginClaimResult, error) {
		return repo.BeginClaim(ctx, model.BeginClaimParams{
			Code: code, Email: email, Name: "Pat", UserID: uuid.NewString(),
			IssueToken: func(userID string, pc model.PairingCode) (model.IssuedToken, error) {
				return model.IssuedToken{ID: uuid.NewString(), Hash: hash, ExpiresAt: pc.ExpiresAt}, nil
			},
			Now: now,
		})
	}

	t.Run("replace removes prior unclaimed codes for the anchor", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")
		issue(t, repo, "CORA-ZZZZ", "anchor-b")
		issue(t, repo, "CORA-BBBB", "anchor-a")

		old, err := repo.FindByCode(ctx, "CORA-AAAA")
		require.NoError(t, err)
		assert.Nil(t, old)

		other, err := repo.FindByCode(ctx, "CORA-ZZZZ")
		require.NoError(t, err)
		assert.NotNil(t, other)
	})

	t.Run("replace reports collisions", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")

		_, err := repo.Replace(ctx, model.CreatePairingCodeParams{Code: "CORA-AAAA", AnchorID: "anchor-b", ExpiresAt: base.Add(time.Minute)})
		assert.ErrorIs(t, err, repository.ErrPairingCodeCollision)
	})

	t.Run("begin claim succeeds once", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")

		res, err := begin(repo, "CORA-AAAA", "pat@example.com", "h1", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "pat@example.com", res.Identity.Email)
		assert.NotNil(t, res.PairingCode.ClaimStartedAt)

		_, err = begin(repo, "CORA-AAAA", "eve@example.com", "h2", base.Add(time.Minute))
		assert.ErrorIs(t, err, repository.ErrPairingCodeClaimed)
	})

	t.Run("failed token issue leaves the code claimable", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")

		_, err := repo.BeginClaim(ctx, model.BeginClaimParams{
			Code: "CORA-AAAA", Email: "pat@example.com", UserID: "u1", Now: base,
			IssueToken: func(string, model.PairingCode) (model.IssuedToken, error) {
				return model.IssuedToken{}, assert.AnError
			},
		})
		assert.ErrorIs(t, err, assert.AnError)

		_, err = begin(repo, "CORA-AAAA", "pat@example.com", "h1", base)
		assert.NoError(t, err)
	})

	t.Run("token is issued for the existing identity", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")
		first, err := begin(repo, "CORA-AAAA", "pat@example.com", "h1", base)
		require.NoError(t, err)

		issue(t, repo, "CORA-BBBB", "anchor-b")
		var issuedFor string
		second, err := repo.BeginClaim(ctx, model.BeginClaimParams{
			Code: "CORA-BBBB", Email: "pat@example.com", UserID: "fresh-id", Now: base,
			IssueToken: func(userID string, pc model.PairingCode) (model.IssuedToken, error) {
				issuedFor = userID
				return model.IssuedToken{ID: "t2", Hash: "h2", ExpiresAt: pc.ExpiresAt}, nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, first.Identity.ID, second.Identity.ID)
		assert.Equal(t, first.Identity.ID, issuedFor)
	})

	t.Run("begin claim classifies failures", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")

		_, err := begin(repo, "CORA-NOPE", "pat@example.com", "h1", base)
		assert.ErrorIs(t, err, repository.ErrPairingCodeNotFound)

		_, err = begin(repo, "CORA-AAAA", "pat@example.com", "h1", base.Add(5*time.Minute+time.Second))
		assert.ErrorIs(t, err, repository.ErrPairingCodeExpired)
	})

	t.Run("redeem consumes token once and binds device", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")
		started, err := begin(repo, "CORA-AAAA", "pat@example.com", "h1", base.Add(time.Minute))
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 10)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = repo.RedeemToken(ctx, model.RedeemTokenParams{
					TokenHash: "h1", DeviceID: uuid.NewString(), DeviceName: "phone", Now: base.Add(2 * time.Minute),
				})
			}(i)
		}
		wg.Wait()

		var ok, used int
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case err == repository.ErrTokenUsed:
				used++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 9, used)

		pc, _ := repo.FindByCode(ctx, "CORA-AAAA")
		require.NotNil(t, pc.ClaimedBy)
		assert.Equal(t, started.Identity.ID, *pc.ClaimedBy)
	})

	t.Run("second pairing of same user and anchor updates the device", func(t *testing.T) {
		s := New()
		repo := NewPairingCodeRepository(s)
		devices := NewDeviceRepository(s)

		issue(t, repo, "CORA-AAAA", "anchor-a")
		_, err := begin(repo, "CORA-AAAA", "pat@example.com", "h1", base)
		require.NoError(t, err)
		first, err := repo.RedeemToken(ctx, model.RedeemTokenParams{TokenHash: "h1", DeviceID: "d1", Now: base})
		require.NoError(t, err)

		issue(t, repo, "CORA-BBBB", "anchor-a")
		_, err = begin(repo, "CORA-BBBB", "pat@example.com", "h2", base.Add(time.Minute))
		require.NoError(t, err)
		second, err := repo.RedeemToken(ctx, model.RedeemTokenParams{TokenHash: "h2", DeviceID: "d2", Now: base.Add(2 * time.Minute)})
		require.NoError(t, err)

		assert.Equal(t, first.Device.ID, second.Device.ID)
		assert.Equal(t, base.Add(2*time.Minute), second.Device.LastConnected)
		assert.Equal(t, first.Identity.ID, second.Identity.ID)

		active, err := devices.FindActiveByAnchorID(ctx, "anchor-a")
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("redeem after expiry fails and leaves token unused", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")
		_, err := begin(repo, "CORA-AAAA", "pat@example.com", "h1", base)
		require.NoError(t, err)

		_, err = repo.RedeemToken(ctx, model.RedeemTokenParams{TokenHash: "h1", DeviceID: "d1", Now: base.Add(6 * time.Minute)})
		assert.ErrorIs(t, err, repository.ErrPairingCodeExpired)

		_, err = repo.RedeemToken(ctx, model.RedeemTokenParams{TokenHash: "unknown", Now: base})
		assert.ErrorIs(t, err, repository.ErrTokenNotFound)
	})

	t.Run("delete expired keeps claimed codes", func(t *testing.T) {
		repo := NewPairingCodeRepository(New())
		issue(t, repo, "CORA-AAAA", "anchor-a")
		begin(repo, "CORA-AAAA", "pat@example.com", "h1", base)
		repo.RedeemToken(ctx, model.RedeemTokenParams{TokenHash: "h1", DeviceID: "d1", Now: base})
		issue(t, repo, "CORA-BBBB", "anchor-b")

		n, err := repo.DeleteExpired(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		claimed, _ := repo.FindByCode(ctx, "CORA-AAAA")
		assert.NotNil(t, claimed)
	})
}

func TestDeviceRepository(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.devicesByID["d1"] = &model.Device{ID: "d1", AnchorID: "anchor-a", IsActive: true}

	repo := NewDeviceRepository(s)

	t.Run("deactivate is scoped to the anchor", func(t *testing.T) {
		ok, err := repo.Deactivate(ctx, "anchor-b", "d1")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Deactivate(ctx, "anchor-a", "d1")
		require.NoError(t, err)
		assert.True(t, ok)

		active, _ := repo.FindActiveByAnchorID(ctx, "anchor-a")
		assert.Empty(t, active)
	})
}

func TestChatRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(New())

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, model.CreateChatMessageParams{
			AnchorID: "anchor-a", Sender: "user", Message: fmt.Sprintf("m%d", i), Type: model.ChatMessageText, CreatedAt: base,
		})
		require.NoError(t, err)
	}
	repo.Create(ctx, model.CreateChatMessageParams{AnchorID: "anchor-b", Sender: "user", Message: "other"})

	t.Run("returns newest first within limit", func(t *testing.T) {
		msgs, err := repo.FindRecent(ctx, "anchor-a", 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m4", msgs[0].Message)
		assert.Equal(t, "m2", msgs[2].Message)
		assert.Greater(t, msgs[0].ID, msgs[1].ID)
	})

	t.Run("ids are unique across anchors", func(t *testing.T) {
		a, _ := repo.FindRecent(ctx, "anchor-a", 10)
		b, _ := repo.FindRecent(ctx, "anchor-b", 10)
		require.Len(t, b, 1)
		for _, m := range a {
			assert.NotEqual(t, b[0].ID, m.ID)
		}
	})
}

func TestPresenceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPresenceRepository(New())

	t.Run("upsert overwrites the single row", func(t *testing.T) {
		_, err := repo.Upsert(ctx, model.UpsertHeartbeatParams{AnchorID: "a", SystemInfo: json.RawMessage(`{"v":1}`), Now: base})
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, model.UpsertHeartbeatParams{AnchorID: "a", SystemInfo: json.RawMessage(`{"v":2}`), Now: base.Add(time.Second)})
		require.NoError(t, err)

		all, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.JSONEq(t, `{"v":2}`, string(all[0].SystemInfo))
		assert.Equal(t, base.Add(time.Second), all[0].LastSeen)
	})

	t.Run("missing anchor returns nil", func(t *testing.T) {
		status, err := repo.FindByAnchorID(ctx, "never")
		require.NoError(t, err)
		assert.Nil(t, status)
	})
}
