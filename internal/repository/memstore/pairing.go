package memstore

import (
	"context"
	"time"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
)

type pairingCodeRepo struct {
	s *Store
}

func NewPairingCodeRepository(s *Store) repository.PairingCodeRepository {
	return &pairingCodeRepo{s: s}
}

func (r *pairingCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	pc, ok := r.s.codesByCode[code]
	if !ok {
		return nil, nil
	}
	out := *pc
	return &out, nil
}

func (r *pairingCodeRepo) Replace(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.codesByCode[params.Code]; exists {
		return nil, repository.ErrPairingCodeCollision
	}

	for code, pc := range r.s.codesByCode {
		if pc.AnchorID == params.AnchorID && !pc.IsClaimed() {
			delete(r.s.codesByCode, code)
		}
	}

	pc := &model.PairingCode{
		Code:       params.Code,
		AnchorID:   params.AnchorID,
		AnchorName: params.AnchorName,
		CreatedAt:  params.CreatedAt,
		ExpiresAt:  params.ExpiresAt,
	}
	r.s.codesByCode[pc.Code] = pc

	out := *pc
	return &out, nil
}

func (r *pairingCodeRepo) BeginClaim(ctx context.Context, params model.BeginClaimParams) (*model.BeginClaimResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pc, ok := r.s.codesByCode[params.Code]
	if !ok {
		return nil, repository.ErrPairingCodeNotFound
	}
	if pc.ClaimStartedAt != nil || pc.IsClaimed() || pc.IsExpired(params.Now) {
		return nil, repository.ClassifyUnclaimable(pc, params.Now)
	}

	identity, existed := r.lookupIdentityLocked(params.Email)
	if !existed {
		identity = model.Identity{ID: params.UserID, Email: params.Email, Name: params.Name, CreatedAt: params.Now}
	}
	if params.Name != "" {
		identity.Name = params.Name
	}
	identity.UpdatedAt = params.Now

	started := *pc
	startedAt := params.Now
	started.ClaimStartedAt = &startedAt

	issued, err := params.IssueToken(identity.ID, started)
	if err != nil {
		return nil, err
	}

	// Nothing is written until the token is issued, so a failure leaves no trace.
	pc.ClaimStartedAt = &startedAt
	r.s.identitiesByID[identity.ID] = &identity
	r.s.identityIDByEmail[identity.Email] = identity.ID
	r.s.tokensByHash[issued.Hash] = &model.VerificationToken{
		ID:        issued.ID,
		TokenHash: issued.Hash,
		Code:      params.Code,
		UserID:    identity.ID,
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: params.Now,
	}

	return &model.BeginClaimResult{PairingCode: started, Identity: identity}, nil
}

func (r *pairingCodeRepo) lookupIdentityLocked(email string) (model.Identity, bool) {
	id, ok := r.s.identityIDByEmail[email]
	if !ok {
		return model.Identity{}, false
	}
	return *r.s.identitiesByID[id], true
}

func (r *pairingCodeRepo) RedeemToken(ctx context.Context, params model.RedeemTokenParams) (*model.RedeemTokenResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.tokensByHash[params.TokenHash]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	if token.UsedAt != nil {
		return nil, repository.ErrTokenUsed
	}

	pc, ok := r.s.codesByCode[token.Code]
	switch {
	case !ok:
		return nil, repository.ErrPairingCodeNotFound
	case pc.IsClaimed():
		return nil, repository.ErrPairingCodeClaimed
	case pc.IsExpired(params.Now):
		return nil, repository.ErrPairingCodeExpired
	}

	usedAt := params.Now
	token.UsedAt = &usedAt

	claimedAt := params.Now
	claimedBy := token.UserID
	pc.ClaimedAt = &claimedAt
	pc.ClaimedBy = &claimedBy

	key := token.UserID + "|" + pc.AnchorID
	var device *model.Device
	if id, exists := r.s.deviceIDByUserAnchor[key]; exists {
		device = r.s.devicesByID[id]
		device.LastConnected = params.Now
		device.IsActive = true
		if params.DeviceName != "" {
			device.Name = params.DeviceName
		}
	} else {
		device = &model.Device{
			ID:            params.DeviceID,
			UserID:        token.UserID,
			AnchorID:      pc.AnchorID,
			Name:          params.DeviceName,
			PairedAt:      params.Now,
			LastConnected: params.Now,
			IsActive:      true,
		}
		r.s.devicesByID[device.ID] = device
		r.s.deviceIDByUserAnchor[key] = device.ID
	}

	return &model.RedeemTokenResult{
		PairingCode: *pc,
		Identity:    *r.s.identitiesByID[token.UserID],
		Device:      *device,
	}, nil
}

func (r *pairingCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for code, pc := range r.s.codesByCode {
		if !pc.IsClaimed() && pc.ExpiresAt.Before(before) {
			delete(r.s.codesByCode, code)
			count++
		}
	}
	return count, nil
}

func (r *pairingCodeRepo) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for hash, token := range r.s.tokensByHash {
		if token.UsedAt == nil && token.ExpiresAt.Before(before) {
			delete(r.s.tokensByHash, hash)
			count++
		}
	}
	return count, nil
}
