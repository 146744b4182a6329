package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/audit"
	"github.com/coramini/relay-server-go/internal/clock"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/repository"
	"github.com/coramini/relay-server-go/internal/util"
)

const (
	pairingCodeChars     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodeLength    = 4
	maxIssueAttempts     = 10
	maxIdentityNameRunes = 100
)

type PairingServiceConfig struct {
	Prefix string
	TTL    time.Duration
}

// ValidatedCode is what a remote learns about a code before claiming it.
type ValidatedCode struct {
	AnchorID   string    `json:"anchor_id"`
	AnchorName string    `json:"anchor_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type StartClaimResult struct {
	UserID            string `json:"user_id"`
	VerificationToken string `json:"verification_token"`
}

type CompleteClaimResult struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	AnchorID   string `json:"anchor_id"`
	AnchorName string `json:"anchor_name"`
}

type PairingService struct {
	codeRepo   repository.PairingCodeRepository
	deviceRepo repository.DeviceRepository
	tokens     *TokenIssuer
	clock      clock.Clock
	prefix     string
	ttl        time.Duration
}

func NewPairingService(
	codeRepo repository.PairingCodeRepository,
	deviceRepo repository.DeviceRepository,
	tokens *TokenIssuer,
	clk clock.Clock,
	cfg PairingServiceConfig,
) *PairingService {
	return &PairingService{
		codeRepo:   codeRepo,
		deviceRepo: deviceRepo,
		tokens:     tokens,
		clock:      clk,
		prefix:     strings.ToUpper(strings.TrimSpace(cfg.Prefix)),
		ttl:        cfg.TTL,
	}
}

// IssueCode replaces any unclaimed code of the anchor with a fresh one.
// Collisions with codes of other anchors are retried with a new draw.
func (s *PairingService) IssueCode(ctx context.Context, anchorID, anchorName string) (*model.PairingCode, error) {
	anchorID = strings.TrimSpace(anchorID)
	if anchorID == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}
	anchorName = strings.TrimSpace(anchorName)
	if anchorName == "" {
		anchorName = anchorID
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		now := s.clock.Now()
		pc, err := s.codeRepo.Replace(ctx, model.CreatePairingCodeParams{
			Code:       generateRandomCode(s.prefix),
			AnchorID:   anchorID,
			AnchorName: anchorName,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.ttl),
		})
		if errors.Is(err, repository.ErrPairingCodeCollision) {
			log.Debug().Int("attempt", attempt).Str("anchorId", anchorID).Msg("pairing code collision, redrawing")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create pairing code: %w", err)
		}

		audit.Log(ctx, audit.Event{
			Type:     audit.EventCodeIssue,
			Time:     s.clock.Now(),
			AnchorID: anchorID,
			Details: map[string]interface{}{
				"code":      util.MaskCode(pc.Code),
				"expiresAt": pc.ExpiresAt.Format(time.RFC3339),
			},
		})
		return pc, nil
	}

	return nil, apperrors.Internal("could not allocate a unique pairing code")
}

// Validate is a read-only lookup. A code whose claim has started still
// validates; only a completed claim hides it.
func (s *PairingService) Validate(ctx context.Context, code string) (*ValidatedCode, error) {
	pc, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if pc == nil || pc.IsClaimed() {
		return nil, apperrors.InvalidPairingCode()
	}
	if pc.IsExpired(s.clock.Now()) {
		return nil, apperrors.PairingExpired()
	}
	return &ValidatedCode{AnchorID: pc.AnchorID, AnchorName: pc.AnchorName, ExpiresAt: pc.ExpiresAt}, nil
}

// StartClaim resolves the identity by email and mints a single-use
// verification token. The code is not claimed until the token is redeemed,
// but no second StartClaim on the same code can succeed.
func (s *PairingService) StartClaim(ctx context.Context, code, email, name string) (*StartClaimResult, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be a valid email address")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	if utf8.RuneCountInString(name) > maxIdentityNameRunes {
		return nil, apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxIdentityNameRunes))
	}

	pc, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, apperrors.InvalidPairingCode()
	}

	var token string
	res, err := s.codeRepo.BeginClaim(ctx, model.BeginClaimParams{
		Code:   code,
		Email:  email,
		Name:   name,
		UserID: uuid.NewString(),
		IssueToken: func(userID string, started model.PairingCode) (model.IssuedToken, error) {
			signed, jti, err := s.tokens.Mint(userID, started.Code, started.ExpiresAt)
			if err != nil {
				return model.IssuedToken{}, err
			}
			token = signed
			return model.IssuedToken{ID: jti, Hash: util.HashToken(signed), ExpiresAt: started.ExpiresAt}, nil
		},
		Now: s.clock.Now(),
	})
	if err != nil {
		if appErr := claimError(err); appErr != nil {
			s.auditReject(ctx, pc.AnchorID, code, appErr)
			return nil, appErr
		}
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventClaimStart,
		Time:     s.clock.Now(),
		UserID:   res.Identity.ID,
		AnchorID: pc.AnchorID,
		Details:  map[string]interface{}{"code": util.MaskCode(code)},
	})

	return &StartClaimResult{UserID: res.Identity.ID, VerificationToken: token}, nil
}

// CompleteClaim redeems a verification token exactly once. The token row,
// the code and the device binding change together or not at all.
func (s *PairingService) CompleteClaim(ctx context.Context, token, deviceName string) (*CompleteClaimResult, error) {
	claims, err := s.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	res, err := s.codeRepo.RedeemToken(ctx, model.RedeemTokenParams{
		TokenHash:  util.HashToken(strings.TrimSpace(token)),
		DeviceID:   uuid.NewString(),
		DeviceName: strings.TrimSpace(deviceName),
		Now:        s.clock.Now(),
	})
	if err != nil {
		// The token lives exactly as long as its code.
		if errors.Is(err, repository.ErrPairingCodeExpired) {
			err = apperrors.TokenExpired()
		}
		if appErr := claimError(err); appErr != nil {
			s.auditReject(ctx, "", claims.Code, appErr)
			return nil, appErr
		}
		return nil, fmt.Errorf("redeem token: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventClaimComplete,
		Time:     s.clock.Now(),
		UserID:   res.Identity.ID,
		AnchorID: res.PairingCode.AnchorID,
		Details: map[string]interface{}{
			"code":     util.MaskCode(res.PairingCode.Code),
			"deviceId": res.Device.ID,
		},
	})

	return &CompleteClaimResult{
		UserID:     res.Identity.ID,
		DeviceID:   res.Device.ID,
		AnchorID:   res.PairingCode.AnchorID,
		AnchorName: res.PairingCode.AnchorName,
	}, nil
}

// CheckStatus evaluates expiry at read time; nothing is written.
func (s *PairingService) CheckStatus(ctx context.Context, code string) (model.PairingStatus, error) {
	pc, err := s.lookup(ctx, code)
	if err != nil {
		return "", err
	}
	if pc == nil {
		return model.PairingStatusNotFound, nil
	}
	return pc.Status(s.clock.Now()), nil
}

func (s *PairingService) ListDevices(ctx context.Context, anchorID string) ([]model.Device, error) {
	if strings.TrimSpace(anchorID) == "" {
		return nil, apperrors.MissingRequired("anchor_id")
	}
	devices, err := s.deviceRepo.FindActiveByAnchorID(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if devices == nil {
		devices = []model.Device{}
	}
	return devices, nil
}

// Unpair soft-deactivates a device. It reports false when the device was
// unknown or already inactive.
func (s *PairingService) Unpair(ctx context.Context, anchorID, deviceID string) (bool, error) {
	if strings.TrimSpace(anchorID) == "" {
		return false, apperrors.MissingRequired("anchor_id")
	}
	if !util.IsValidUUID(deviceID) {
		return false, apperrors.InvalidInput("device_id", "must be a UUID")
	}

	ok, err := s.deviceRepo.Deactivate(ctx, anchorID, deviceID)
	if err != nil {
		return false, fmt.Errorf("deactivate device: %w", err)
	}
	if ok {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventDeviceUnpair,
			Time:     s.clock.Now(),
			AnchorID: anchorID,
			Details:  map[string]interface{}{"deviceId": deviceID},
		})
	}
	return ok, nil
}

// TouchDevice records a reconnect of a paired device.
func (s *PairingService) TouchDevice(ctx context.Context, deviceID string) error {
	if !util.IsValidUUID(deviceID) {
		return apperrors.InvalidInput("device_id", "must be a UUID")
	}
	if err := s.deviceRepo.Touch(ctx, deviceID, s.clock.Now()); err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// DeleteExpired removes unclaimed codes and unused tokens that expired
// before cutoff.
func (s *PairingService) DeleteExpired(ctx context.Context, cutoff time.Time) (codes int64, tokens int64, err error) {
	codes, err = s.codeRepo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired codes: %w", err)
	}
	tokens, err = s.codeRepo.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		return codes, 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return codes, tokens, nil
}

func (s *PairingService) lookup(ctx context.Context, code string) (*model.PairingCode, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}
	pc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find pairing code: %w", err)
	}
	return pc, nil
}

func (s *PairingService) auditReject(ctx context.Context, anchorID, code string, appErr *apperrors.AppError) {
	audit.Log(ctx, audit.Event{
		Type:     audit.EventClaimReject,
		Time:     s.clock.Now(),
		AnchorID: anchorID,
		Details: map[string]interface{}{
			"code":   util.MaskCode(code),
			"reason": string(appErr.Code),
		},
	})
}

// claimError maps repository sentinels to client errors. It returns nil for
// anything else.
func claimError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, repository.ErrPairingCodeNotFound):
		return apperrors.InvalidPairingCode()
	case errors.Is(err, repository.ErrPairingCodeExpired):
		return apperrors.PairingExpired()
	case errors.Is(err, repository.ErrPairingCodeClaimed):
		return apperrors.AlreadyClaimed()
	case errors.Is(err, repository.ErrTokenUsed):
		return apperrors.AlreadyUsed()
	case errors.Is(err, repository.ErrTokenNotFound):
		return apperrors.InvalidToken("Unknown verification token")
	default:
		if appErr, ok := apperrors.AsAppError(err); ok {
			return appErr
		}
		return nil
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateRandomCode(prefix string) string {
	chars := []byte(pairingCodeChars)
	suffix := make([]byte, pairingCodeLength)

	for i := range suffix {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		suffix[i] = chars[n.Int64()]
	}

	if prefix == "" {
		return string(suffix)
	}
	return fmt.Sprintf("%s-%s", prefix, string(suffix))
}
