// Package telegram implements the ASCEND Telegram bot: update routing, the
// middleware chain and delivery of handler responses.
package telegram

import (
	"context"
	"strings"

	"github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
	"github.com/ascend-app/ascend/internal/interface/telegram/handler"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTES
// ══════════════════════════════════════════════════════════════════════════════

// Route names double as auth keys and metric labels.
const (
	RouteStart    = "start"
	RouteQuests   = "quests"
	RouteStats    = "stats"
	RouteHelp     = "help"
	RouteComplete = "complete"
	RouteUnknown  = "unknown"
)

const (
	UnknownCommandMessage = "🤔 Unknown command. Send /help to see what I can do."
	StaleCallbackMessage  = "This button is outdated."
)

// Match is a routed update.
type Match struct {
	Route   string
	Handler handler.Handler
	Request handler.Request
}

type route struct {
	name string
	h    handler.Handler
}

type prefixRoute struct {
	prefix string
	route
}

// Router routes Telegram updates to handlers. It is configured once at
// startup and read-only afterwards.
type Router struct {
	commands  map[string]route
	callbacks map[string]route
	prefixes  []prefixRoute

	unknownCommand  handler.Handler
	unknownCallback handler.Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		commands:  make(map[string]route),
		callbacks: make(map[string]route),
		unknownCommand: handler.HandlerFunc(func(context.Context, handler.Request) (*handler.Response, error) {
			return &handler.Response{Text: UnknownCommandMessage}, nil
		}),
		unknownCallback: handler.HandlerFunc(func(context.Context, handler.Request) (*handler.Response, error) {
			return &handler.Response{Toast: StaleCallbackMessage}, nil
		}),
	}
}

// Command registers a handler for /command under the route name.
func (r *Router) Command(command, name string, h handler.Handler) {
	r.commands[strings.ToLower(command)] = route{name: name, h: h}
}

// Callback registers a handler for exact callback data.
func (r *Router) Callback(data, name string, h handler.Handler) {
	r.callbacks[data] = route{name: name, h: h}
}

// CallbackPrefix registers a handler for callback data starting with prefix.
func (r *Router) CallbackPrefix(prefix, name string, h handler.Handler) {
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, route: route{name: name, h: h}})
}

// Match resolves an update. Plain text, edits and updates without a sender
// are not routed.
func (r *Router) Match(upd *telegram.Update) (*Match, bool) {
	switch {
	case upd.Message != nil:
		return r.matchMessage(upd.Message)
	case upd.CallbackQuery != nil:
		return r.matchCallback(upd.CallbackQuery)
	}
	return nil, false
}

func (r *Router) matchMessage(msg *telegram.Message) (*Match, bool) {
	if msg.From == nil || msg.Chat == nil {
		return nil, false
	}
	cmd := telegram.ExtractCommand(msg)
	if cmd == "" {
		return nil, false
	}

	req := handler.Request{
		TelegramID: msg.From.ID,
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		Username:   msg.From.Username,
		FirstName:  msg.From.FirstName,
		Args:       telegram.ExtractCommandArgs(msg),
	}
	rt, ok := r.commands[strings.ToLower(cmd)]
	if !ok {
		return &Match{Route: RouteUnknown, Handler: r.unknownCommand, Request: req}, true
	}
	return &Match{Route: rt.name, Handler: rt.h, Request: req}, true
}

func (r *Router) matchCallback(cq *telegram.CallbackQuery) (*Match, bool) {
	if cq.From == nil {
		return nil, false
	}
	req := handler.Request{
		TelegramID: cq.From.ID,
		Username:   cq.From.Username,
		FirstName:  cq.From.FirstName,
		Data:       cq.Data,
		CallbackID: cq.ID,
		IsCallback: true,
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		req.ChatID = cq.Message.Chat.ID
		req.MessageID = cq.Message.MessageID
	}

	if rt, ok := r.callbacks[cq.Data]; ok {
		return &Match{Route: rt.name, Handler: rt.h, Request: req}, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(cq.Data, p.prefix) {
			return &Match{Route: p.name, Handler: p.h, Request: req}, true
		}
	}
	return &Match{Route: RouteUnknown, Handler: r.unknownCallback, Request: req}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// MARKUP
// ══════════════════════════════════════════════════════════════════════════════

// ToMarkup converts a presenter keyboard to Bot API markup. Nil and empty
// keyboards become nil.
func ToMarkup(kb *presenter.InlineKeyboard) *telegram.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	builder := telegram.NewKeyboard()
	for _, row := range kb.Rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			switch {
			case b.WebAppURL != "":
				buttons = append(buttons, telegram.WebAppButton(b.Text, b.WebAppURL))
			case b.URL != "":
				buttons = append(buttons, telegram.URLButton(b.Text, b.URL))
			default:
				buttons = append(buttons, telegram.Button(b.Text, b.CallbackData))
			}
		}
		builder.Row(buttons...)
	}
	return builder.Build()
}

// BotCommands is the command menu registered with setMyCommands.
func BotCommands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "Create your character or open the menu"},
		{Command: "quests", Description: "Today's quests"},
		{Command: "stats", Description: "Your stats and rank"},
		{Command: "help", Description: "How it works"},
	}
}
