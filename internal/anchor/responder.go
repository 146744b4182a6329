package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/remote"
)

const responderChatWindow = 10

var commandPrefixes = []string{"/", "run ", "execute ", "do ", "please ", "can you "}

// Checked in order; the first keyword found in the message wins.
var toolKeywords = []struct {
	keyword string
	tool    string
}{
	{"echo", "echo"},
	{"system", "system_info"},
	{"status", "system_info"},
	{"time", "get_current_time"},
	{"date", "get_current_time"},
	{"tools", "list_tools"},
}

// Responder answers chat messages addressed to the anchor's bot.
type Responder struct {
	session *remote.Session
	cursor  *remote.ChatCursor
	botName string
	tools   *Registry
	loop    *ToolLoop
	mention *regexp.Regexp
}

func NewResponder(session *remote.Session, botName string, tools *Registry, completer Completer) *Responder {
	if completer == nil {
		completer = StaticCompleter{BotName: botName}
	}
	names := []string{"coramini", "cora", "mini"}
	if lower := strings.ToLower(botName); lower != "" && !slices.Contains(names, lower) {
		names = append([]string{regexp.QuoteMeta(lower)}, names...)
	}
	return &Responder{
		session: session,
		cursor:  session.ChatCursor(0, responderChatWindow),
		botName: botName,
		tools:   tools,
		loop:    NewToolLoop(completer, tools, DefaultMaxToolRounds),
		mention: regexp.MustCompile(`(?i)@(` + strings.Join(names, "|") + `)\b`),
	}
}

// Prime skips the chat history so only messages posted after startup are
// answered.
func (r *Responder) Prime(ctx context.Context) error {
	return r.cursor.Prime(ctx)
}

// Poll answers every new message that warrants it, oldest first.
func (r *Responder) Poll(ctx context.Context) {
	_, err := r.cursor.PollNew(ctx, func(newer, _ []model.ChatMessage) {
		for _, msg := range newer {
			if !r.ShouldRespond(msg) {
				continue
			}
			log.Info().Str("sender", msg.Sender).Int64("messageId", msg.ID).Msg("responding to chat message")

			reply, msgType := r.Handle(ctx, msg.Message)
			if reply == "" {
				continue
			}
			if _, err := r.session.Post(ctx, r.botName, reply, msgType); err != nil {
				log.Warn().Err(err).Int64("messageId", msg.ID).Msg("failed to post chat reply")
			}
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("chat poll failed")
	}
}

// ShouldRespond is true for a mention, a question or a command, never for
// the bot's own messages.
func (r *Responder) ShouldRespond(msg model.ChatMessage) bool {
	if strings.EqualFold(msg.Sender, r.botName) {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(msg.Message))
	if r.mention.MatchString(text) {
		return true
	}
	if strings.HasSuffix(text, "?") {
		return true
	}
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// Handle produces the reply to text and the type to post it as.
func (r *Responder) Handle(ctx context.Context, text string) (string, model.ChatMessageType) {
	clean := strings.TrimSpace(r.mention.ReplaceAllString(text, ""))
	clean = strings.TrimSpace(strings.TrimPrefix(clean, "/"))

	if tool, params, ok := matchTool(clean); ok {
		result, err := r.tools.Execute(ctx, tool, params)
		if err != nil {
			return "Error: " + err.Error(), model.ChatMessageError
		}
		return formatResult(result), model.ChatMessageResponse
	}

	answer, _, err := r.loop.Run(ctx, []Message{
		{Role: RoleSystem, Content: r.systemPrompt()},
		{Role: RoleUser, Content: clean},
	})
	if err != nil {
		log.Warn().Err(err).Msg("completion failed")
		return "Error: " + err.Error(), model.ChatMessageError
	}
	return answer, model.ChatMessageResponse
}

func (r *Responder) systemPrompt() string {
	return "You are " + r.botName + ", the assistant of this anchor. Available tools: " +
		strings.Join(r.tools.Names(), ", ") + ". Keep answers short."
}

// matchTool maps a message to a tool by whole-word keyword. Echo repeats
// what follows the first "echo" word.
func matchTool(text string) (string, json.RawMessage, bool) {
	words := splitWords(text)
	for _, kw := range toolKeywords {
		i := slices.IndexFunc(words, func(w word) bool {
			return strings.EqualFold(w.text, kw.keyword)
		})
		if i < 0 {
			continue
		}
		if kw.tool != "echo" {
			return kw.tool, nil, true
		}
		rest := strings.Trim(strings.TrimSpace(text[words[i].end:]), `"'`)
		if rest == "" {
			continue
		}
		params, _ := json.Marshal(map[string]string{"text": rest})
		return kw.tool, params, true
	}
	return "", nil, false
}

// word is a run of letters, digits or underscores; end is its byte offset
// in the original text.
type word struct {
	text string
	end  int
}

func splitWords(text string) []word {
	var words []word
	start := -1
	for i, c := range text {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, word{text: text[start:i], end: i})
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, word{text: text[start:], end: len(text)})
	}
	return words
}

func formatResult(result json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		return string(result)
	}
	return out.String()
}
