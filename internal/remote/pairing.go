package remote

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/poller"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

// Pairing runs the remote half of the handshake. It needs no anchor: the
// code names one.
type Pairing struct {
	client   *relayclient.Client
	interval time.Duration
}

func NewPairing(client *relayclient.Client, interval time.Duration) *Pairing {
	return &Pairing{client: client, interval: interval}
}

func (p *Pairing) Validate(ctx context.Context, code string) (*relayclient.ValidatedCode, error) {
	return p.client.ValidatePairingCode(ctx, code)
}

// Start resolves the identity and returns the verification token that has
// to travel out of band before Confirm.
func (p *Pairing) Start(ctx context.Context, code, email, name string) (*relayclient.ClaimStarted, error) {
	return p.client.StartClaim(ctx, code, email, name)
}

// Confirm redeems the token. It returns a session bound to the paired
// anchor as that device.
func (p *Pairing) Confirm(ctx context.Context, token, deviceName string) (*relayclient.ClaimCompleted, *Session, error) {
	done, err := p.client.CompleteClaim(ctx, token, deviceName)
	if err != nil {
		return nil, nil, err
	}
	return done, NewSession(p.client, done.AnchorID, WithDevice(done.DeviceID)), nil
}

// WaitForClaim polls the code until it is claimed. An expired or unknown
// code ends the wait with that status and no error; the timeout ends it
// with TIMEOUT.
func (p *Pairing) WaitForClaim(ctx context.Context, code string, timeout time.Duration) (model.PairingStatus, error) {
	return WaitForClaim(ctx, p.client, code, p.interval, timeout)
}

// WaitForClaim is shared by the remote and the anchor operator.
func WaitForClaim(ctx context.Context, client *relayclient.Client, code string, interval, timeout time.Duration) (model.PairingStatus, error) {
	var status model.PairingStatus
	err := poller.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		st, err := client.CheckPairingStatus(ctx, code)
		if err != nil {
			return false, err
		}
		status = st
		return st != model.PairingStatusPending, nil
	})
	if errors.Is(err, poller.ErrTimeout) {
		return model.PairingStatusPending, apperrors.Timeout("pairing " + code)
	}
	if err != nil {
		return "", err
	}
	return status, nil
}
