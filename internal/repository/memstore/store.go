// Package memstore is an in-process implementation of the repository
// interfaces. Every operation runs under one mutex, which gives the same
// check-and-set guarantees the Postgres repositories get from conditional
// UPDATEs. It backs STORE_BACKEND=memory and the service tests.
package memstore

import (
	"encoding/json"
	"sync"

	"github.com/coramini/relay-server-go/internal/model"
)

type Store struct {
	mu sync.RWMutex

	statusByAnchor map[string]model.AnchorStatus

	commandsByID map[string]*model.Command
	commandSeq   int64

	codesByCode          map[string]*model.PairingCode
	identitiesByID       map[string]*model.Identity
	identityIDByEmail    map[string]string
	tokensByHash         map[string]*model.VerificationToken
	devicesByID          map[string]*model.Device
	deviceIDByUserAnchor map[string]string // userID + "|" + anchorID -> deviceID

	chatByAnchor map[string][]model.ChatMessage
	chatSeq      int64
}

func New() *Store {
	return &Store{
		statusByAnchor:       make(map[string]model.AnchorStatus),
		commandsByID:         make(map[string]*model.Command),
		codesByCode:          make(map[string]*model.PairingCode),
		identitiesByID:       make(map[string]*model.Identity),
		identityIDByEmail:    make(map[string]string),
		tokensByHash:         make(map[string]*model.VerificationToken),
		devicesByID:          make(map[string]*model.Device),
		deviceIDByUserAnchor: make(map[string]string),
		chatByAnchor:         make(map[string][]model.ChatMessage),
	}
}

func cloneJSON(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneCommand(c *model.Command) model.Command {
	out := *c
	out.Params = cloneJSON(c.Params)
	if c.Result != nil {
		r := cloneJSON(*c.Result)
		out.Result = &r
	}
	return out
}
