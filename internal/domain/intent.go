package domain

// IntentKind classifies an inbound chat message.
type IntentKind int

const (
	// IntentIrrelevant means the message is not addressed to the bot.
	IntentIrrelevant IntentKind = iota
	// IntentMention means the bot was mentioned; Query holds the cleaned text.
	IntentMention
	// IntentCommand means the message starts with a known slash-style command.
	IntentCommand
	// IntentBanter means a canned-phrase trigger matched in a banter group.
	IntentBanter
)

// Intent is the classification result for one inbound message.
// Derived per message, never persisted.
type Intent struct {
	Kind    IntentKind
	Query   string   // mention remainder, mention tokens stripped
	Command string   // leading command token, e.g. "!house"
	Args    []string // positional arguments after the command
}
