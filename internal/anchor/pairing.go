package anchor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/relayclient"
	"github.com/coramini/relay-server-go/internal/remote"
)

// PairingSession is the operator side of pairing: it issues a code, shows
// it and waits for a remote to claim it.
type PairingSession struct {
	client     *relayclient.Client
	anchorID   string
	anchorName string
	pairURL    func(code string) string
	out        io.Writer
	interval   time.Duration
	qr         bool
}

func NewPairingSession(client *relayclient.Client, anchorID, anchorName string, pairURL func(string) string, out io.Writer, interval time.Duration) *PairingSession {
	return &PairingSession{
		client:     client,
		anchorID:   anchorID,
		anchorName: anchorName,
		pairURL:    pairURL,
		out:        out,
		interval:   interval,
	}
}

// ShowQR also renders the pair URL as a QR code for the phone camera.
func (p *PairingSession) ShowQR(on bool) *PairingSession {
	p.qr = on
	return p
}

// Run issues a fresh code, which replaces any unclaimed one, and waits up
// to timeout for the claim. A zero timeout waits until the code expires.
func (p *PairingSession) Run(ctx context.Context, timeout time.Duration) (model.PairingStatus, error) {
	issued, err := p.client.IssuePairingCode(ctx, p.anchorID, p.anchorName)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(p.out, "Pairing code: %s\n", issued.Code)
	if p.pairURL != nil {
		url := p.pairURL(issued.Code)
		fmt.Fprintf(p.out, "Open on your phone: %s\n", url)
		if p.qr {
			qrterminal.GenerateHalfBlock(url, qrterminal.L, p.out)
		}
	}
	fmt.Fprintf(p.out, "Expires at %s\n", issued.ExpiresAt.Local().Format(time.Kitchen))

	if timeout <= 0 {
		// Runs past expiry by one interval so the wait sees the expired status.
		timeout = time.Until(issued.ExpiresAt) + p.interval
	}

	status, err := remote.WaitForClaim(ctx, p.client, issued.Code, p.interval, timeout)
	if err != nil {
		return status, err
	}

	switch status {
	case model.PairingStatusClaimed:
		fmt.Fprintln(p.out, "Paired.")
		log.Info().Str("anchorId", p.anchorID).Msg("pairing code claimed")
	case model.PairingStatusExpired:
		fmt.Fprintln(p.out, "Code expired before it was claimed.")
	default:
		fmt.Fprintf(p.out, "Pairing ended: %s\n", status)
	}
	return status, nil
}
