// Package router classifies inbound chat messages and dispatches replies.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"

	"github.com/Jasguerrero/wa-bot/internal/domain"
	"github.com/Jasguerrero/wa-bot/internal/session"
	"github.com/Jasguerrero/wa-bot/internal/tibia"
)

var mentionPattern = regexp.MustCompile(`@(\d+)`)

// Chat is the slice of the session socket the router needs to reply.
type Chat interface {
	Send(ctx context.Context, to string, msg session.OutgoingMessage) (*session.SendReceipt, error)
	SendPresence(ctx context.Context, to string, presence session.Presence) error
	SelfJID() string
}

// Canned phrases for the banter group. Selected uniformly at random.
var banterReplies = []string{
	"Yo me voy a dormir tranquilo, pq yo se que jugué mejor aunque perdí",
	"No es de ahuevo ganar, lo importante es divertirse",
	"Ni pedo, a levantar la cabeza, fue un partido difícil, y a pensar en el juego del fin de semana",
	"La bronca de ten hag es que sus títulos menores enmascararon los resultados malos",
	"Ya me llego el anillo de Pinedo",
	"No importa lo que yo opine, porque la hubieran usado o no, yo no me bajo del barco de amorin",
	"Valen verga esos cabrones",
	"Seguimos adelante",
}

var banterTriggers = []string{"kike bot", "kikebot", "5663596435"}

// napoTrigger gets its own fixed reply instead of the random pool.
const (
	napoTrigger = "napo"
	napoReply   = "Napo es un pendejo"
)

const (
	tibiaHelpText  = "Comandos: \n!house {world} {city} (ejemplo: !house pacera thais)\n!boss\n"
	banterHelpText = "Estos son los comandos que puedes usar:\n- kikebot\n- kike bot"
)

// Router inspects inbound messages and produces replies. Failures inside a
// handler are logged or relayed as reply text; they never block the next
// message.
type Router struct {
	info      *tibia.Client
	agent     *tibia.AgentClient
	imagesDir string

	tibiaGroups  map[string]struct{}
	banterGroups map[string]struct{}

	pick func(n int) int // index into the canned pool
}

// New creates a Router. The two group sets decide which vocabulary applies
// to a destination; a JID in neither set is ignored entirely.
func New(info *tibia.Client, agent *tibia.AgentClient, imagesDir string, tibiaGroups, banterGroups []string) *Router {
	return &Router{
		info:         info,
		agent:        agent,
		imagesDir:    imagesDir,
		tibiaGroups:  toSet(tibiaGroups),
		banterGroups: toSet(banterGroups),
		pick:         rand.Intn,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// HandleMessage satisfies the lifecycle manager's message handler.
func (r *Router) HandleMessage(ctx context.Context, sock session.Socket, msg *session.IncomingMessage) {
	r.Handle(ctx, sock, msg)
}

// Handle classifies and answers one inbound message.
func (r *Router) Handle(ctx context.Context, chat Chat, msg *session.IncomingMessage) {
	_, inTibia := r.tibiaGroups[msg.From]
	_, inBanter := r.banterGroups[msg.From]

	intent := Classify(msg, chat.SelfJID(), inTibia, inBanter)

	switch intent.Kind {
	case domain.IntentMention:
		r.handleMention(ctx, chat, msg.From, intent.Query)
	case domain.IntentBanter:
		r.reply(ctx, chat, msg.From, r.banterReply(strings.ToLower(msg.Text)), "")
	case domain.IntentCommand:
		if inBanter {
			r.reply(ctx, chat, msg.From, banterHelpText, "")
			return
		}
		r.handleCommand(ctx, chat, msg.From, intent)
	case domain.IntentIrrelevant:
		// No reply.
	}
}

// Classify derives the intent of one inbound message. Pure with respect to
// the message; exported for tests.
func Classify(msg *session.IncomingMessage, selfJID string, inTibiaGroup, inBanterGroup bool) domain.Intent {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	if text == "" {
		return domain.Intent{Kind: domain.IntentIrrelevant}
	}

	if inBanterGroup {
		for _, trigger := range banterTriggers {
			if strings.Contains(text, trigger) {
				return domain.Intent{Kind: domain.IntentBanter}
			}
		}
		if text == "!commands" {
			return domain.Intent{Kind: domain.IntentCommand, Command: "!commands"}
		}
		if strings.Contains(text, napoTrigger) {
			return domain.Intent{Kind: domain.IntentBanter}
		}
		return domain.Intent{Kind: domain.IntentIrrelevant}
	}

	if !inTibiaGroup {
		return domain.Intent{Kind: domain.IntentIrrelevant}
	}

	if mentioned(msg, selfJID) {
		query := mentionPattern.ReplaceAllString(text, "")
		query = strings.Join(strings.Fields(query), " ")
		if query == "" {
			query = "hi"
		}
		return domain.Intent{Kind: domain.IntentMention, Query: query}
	}

	parts := strings.Fields(text)
	switch parts[0] {
	case "!commands", "!house", "!boss":
		return domain.Intent{Kind: domain.IntentCommand, Command: parts[0], Args: parts[1:]}
	}
	return domain.Intent{Kind: domain.IntentIrrelevant}
}

// mentioned reports whether the bot's own address appears in the message,
// either as structured mention metadata or as a textual @digits token.
func mentioned(msg *session.IncomingMessage, selfJID string) bool {
	if selfJID == "" {
		return false
	}
	for _, jid := range msg.MentionedJID {
		if jid == selfJID {
			return true
		}
	}
	selfNumber := numberFromJID(selfJID)
	for _, match := range mentionPattern.FindAllStringSubmatch(msg.Text, -1) {
		if match[1] == selfNumber {
			return true
		}
	}
	return false
}

// numberFromJID strips the server and device suffixes from a JID.
func numberFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// banterReply selects the canned response for an already-classified banter
// message. The trigger phrases share the random pool; anything else got here
// on the napo vocabulary.
func (r *Router) banterReply(text string) string {
	for _, trigger := range banterTriggers {
		if strings.Contains(text, trigger) {
			return banterReplies[r.pick(len(banterReplies))]
		}
	}
	return napoReply
}

func (r *Router) handleMention(ctx context.Context, chat Chat, from, query string) {
	slog.Info("Bot mentioned", "from", from, "query", query)

	if err := chat.SendPresence(ctx, from, session.PresenceComposing); err != nil {
		slog.Debug("Failed to send composing presence", "error", err)
	}
	defer func() {
		if err := chat.SendPresence(ctx, from, session.PresencePaused); err != nil {
			slog.Debug("Failed to send paused presence", "error", err)
		}
	}()

	answer, err := r.agent.Ask(ctx, query)
	if err != nil {
		slog.Warn("Query agent failed", "error", err)
		// Relay the failure as the reply rather than going silent.
		r.reply(ctx, chat, from, err.Error(), "")
		return
	}
	r.reply(ctx, chat, from, answer, "")
}

func (r *Router) handleCommand(ctx context.Context, chat Chat, from string, intent domain.Intent) {
	if err := chat.SendPresence(ctx, from, session.PresenceComposing); err != nil {
		slog.Debug("Failed to send composing presence", "error", err)
	}
	defer func() {
		if err := chat.SendPresence(ctx, from, session.PresencePaused); err != nil {
			slog.Debug("Failed to send paused presence", "error", err)
		}
	}()

	switch intent.Command {
	case "!commands":
		r.reply(ctx, chat, from, tibiaHelpText, "")
	case "!house":
		if len(intent.Args) < 2 {
			return
		}
		world := intent.Args[0]
		city := strings.Join(intent.Args[1:], " ")
		r.reply(ctx, chat, from, r.houseReply(ctx, world, city), "")
	case "!boss":
		text, imagePath := r.bossReply(ctx)
		r.reply(ctx, chat, from, text, imagePath)
	}
}

func (r *Router) houseReply(ctx context.Context, world, city string) string {
	houses, err := r.info.AuctionedHouses(ctx, world, city)
	if err != nil {
		slog.Warn("House lookup failed", "world", world, "city", city, "error", err)
		return fmt.Sprintf("Error: %s and %s not found.", world, city)
	}
	if len(houses) == 0 {
		return fmt.Sprintf("No auctioned houses found in %s, %s.", city, world)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Auctioned Houses in %s, %s:\n\n", city, world)
	for _, h := range houses {
		fmt.Fprintf(&b, "Name: %s, Rent: %d gold, Size: %d SQM, Current Bid: %d, Time Left: %s\n\n",
			h.Name, h.Rent, h.Size, h.Auction.CurrentBid, h.Auction.TimeLeft)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) bossReply(ctx context.Context) (text, imagePath string) {
	name, imageFilename, err := r.info.BoostedBoss(ctx)
	if err != nil {
		slog.Warn("Boosted boss lookup failed", "error", err)
		return "Error getting boss", ""
	}
	return fmt.Sprintf("Boosted boss: %s", name), tibia.ResolveImage(r.imagesDir, imageFilename)
}

func (r *Router) reply(ctx context.Context, chat Chat, to, text, imagePath string) {
	if text == "" {
		return
	}
	if _, err := chat.Send(ctx, to, session.OutgoingMessage{Text: text, ImagePath: imagePath}); err != nil {
		slog.Error("Failed to send reply", "to", to, "error", err)
	}
}
