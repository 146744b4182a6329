package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/httputil"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/service"
)

// RPCHandler serves every relay operation as POST /{operation} with a JSON
// body of snake_case fields.
type RPCHandler struct {
	presence     *service.PresenceService
	commands     *service.CommandService
	pairing      *service.PairingService
	chat         *service.ChatService
	pairingLimit func(http.Handler) http.Handler
}

// NewRPCHandler wraps the pairing operations in pairingLimit when it is
// non-nil.
func NewRPCHandler(
	presence *service.PresenceService,
	commands *service.CommandService,
	pairing *service.PairingService,
	chat *service.ChatService,
	pairingLimit func(http.Handler) http.Handler,
) *RPCHandler {
	return &RPCHandler{
		presence:     presence,
		commands:     commands,
		pairing:      pairing,
		chat:         chat,
		pairingLimit: pairingLimit,
	}
}

func (h *RPCHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/publish_heartbeat", h.PublishHeartbeat)
	r.Post("/get_status", h.GetStatus)
	r.Post("/list_anchors", h.ListAnchors)

	r.Post("/send_command", h.SendCommand)
	r.Post("/poll_commands", h.PollCommands)
	r.Post("/complete_command", h.CompleteCommand)
	r.Post("/fail_command", h.FailCommand)
	r.Post("/get_command", h.GetCommand)

	r.Post("/issue_pairing_code", h.IssuePairingCode)
	r.Post("/list_devices", h.ListDevices)
	r.Post("/unpair_device", h.UnpairDevice)

	r.Group(func(r chi.Router) {
		if h.pairingLimit != nil {
			r.Use(h.pairingLimit)
		}
		r.Post("/validate_pairing_code", h.ValidatePairingCode)
		r.Post("/start_claim", h.StartClaim)
		r.Post("/complete_claim", h.CompleteClaim)
		r.Post("/check_pairing_status", h.CheckPairingStatus)
	})

	r.Post("/post_chat", h.PostChat)
	r.Post("/get_chat", h.GetChat)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, apperrors.NotFound("Operation"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorWithStatus(w, http.StatusMethodNotAllowed,
			apperrors.ValidationError("Operations must be called with POST"))
	})

	return r
}

// POST /publish_heartbeat
func (h *RPCHandler) PublishHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID   string          `json:"anchor_id"`
		SystemInfo json.RawMessage `json:"system_info"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := h.presence.Publish(r.Context(), req.AnchorID, req.SystemInfo)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"anchor_id": status.AnchorID,
		"last_seen": status.LastSeen,
	})
}

// POST /get_status
// An optional device_id marks that paired device as connected.
func (h *RPCHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID string `json:"anchor_id"`
		DeviceID string `json:"device_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	presence, err := h.presence.ReadStatus(r.Context(), req.AnchorID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if req.DeviceID != "" {
		if err := h.pairing.TouchDevice(r.Context(), req.DeviceID); err != nil {
			respondError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, presence)
}

// POST /list_anchors
func (h *RPCHandler) ListAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := h.presence.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, anchors)
}

// POST /send_command
func (h *RPCHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID    string          `json:"anchor_id"`
		CommandName string          `json:"command_name"`
		Params      json.RawMessage `json:"params"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.commands.Enqueue(r.Context(), req.AnchorID, req.CommandName, req.Params)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"command_id": id})
}

// POST /poll_commands
func (h *RPCHandler) PollCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID  string `json:"anchor_id"`
		Limit     int    `json:"limit"`
		ClaimedBy string `json:"claimed_by"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	cmds, err := h.commands.Claim(r.Context(), req.AnchorID, req.Limit, req.ClaimedBy)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cmds)
}

// POST /complete_command
func (h *RPCHandler) CompleteCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID string          `json:"command_id"`
		Result    json.RawMessage `json:"result"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ack, err := h.commands.Complete(r.Context(), req.CommandID, req.Result)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ack": ack})
}

// POST /fail_command
// error may be a bare string or a structured object.
func (h *RPCHandler) FailCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID string          `json:"command_id"`
		Error     json.RawMessage `json:"error"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ack, err := h.commands.Fail(r.Context(), req.CommandID, errorPayload(req.Error))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ack": ack})
}

// POST /get_command
func (h *RPCHandler) GetCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandID string `json:"command_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	cmd, err := h.commands.Get(r.Context(), req.CommandID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

// POST /issue_pairing_code
func (h *RPCHandler) IssuePairingCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID   string `json:"anchor_id"`
		AnchorName string `json:"anchor_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	pc, err := h.pairing.IssueCode(r.Context(), req.AnchorID, req.AnchorName)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":       pc.Code,
		"expires_at": pc.ExpiresAt,
	})
}

// POST /validate_pairing_code
func (h *RPCHandler) ValidatePairingCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	validated, err := h.pairing.Validate(r.Context(), req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validated)
}

// POST /start_claim
func (h *RPCHandler) StartClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	started, err := h.pairing.StartClaim(r.Context(), req.Code, req.Email, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, started)
}

// POST /complete_claim
func (h *RPCHandler) CompleteClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerificationToken string `json:"verification_token"`
		DeviceName        string `json:"device_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	done, err := h.pairing.CompleteClaim(r.Context(), req.VerificationToken, req.DeviceName)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, done)
}

// POST /check_pairing_status
func (h *RPCHandler) CheckPairingStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	status, err := h.pairing.CheckStatus(r.Context(), req.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]model.PairingStatus{"status": status})
}

// POST /list_devices
func (h *RPCHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID string `json:"anchor_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	devices, err := h.pairing.ListDevices(r.Context(), req.AnchorID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

// POST /unpair_device
func (h *RPCHandler) UnpairDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID string `json:"anchor_id"`
		DeviceID string `json:"device_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ack, err := h.pairing.Unpair(r.Context(), req.AnchorID, req.DeviceID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ack": ack})
}

// POST /post_chat
func (h *RPCHandler) PostChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID string                `json:"anchor_id"`
		Sender   string                `json:"sender"`
		Message  string                `json:"message"`
		Type     model.ChatMessageType `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.chat.Post(r.Context(), req.AnchorID, req.Sender, req.Message, req.Type)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"message_id": id})
}

// POST /get_chat
func (h *RPCHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorID string `json:"anchor_id"`
		Limit    int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msgs, err := h.chat.Read(r.Context(), req.AnchorID, req.Limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// decodeBody treats an empty body as an empty object. It writes the error
// response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
			apperrors.InvalidInput("body", "request body too large"))
		return false
	}

	httputil.WriteError(w, apperrors.InvalidInput("body", "must be a JSON object"))
	return false
}

// respondError passes AppErrors through and hides everything else behind a
// DATABASE_ERROR, since unexpected errors come from the store.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsAppError(err) {
		httputil.WriteError(w, err)
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg("rpc failed")
	httputil.WriteError(w, apperrors.Database(err))
}

// errorPayload normalises a fail_command error to a JSON object.
func errorPayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{"error":"unknown error"}`)
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		wrapped, _ := json.Marshal(map[string]string{"error": msg})
		return wrapped
	}
	return raw
}
