package chat

import "errors"

var (
	// ErrValidation covers missing required fields; surfaced as 400 before
	// any side effect.
	ErrValidation = errors.New("missing or invalid required field")

	ErrUnauthenticated = errors.New("no resolvable user identity")

	// ErrForbidden means the tenant has no entitlement to the bot.
	ErrForbidden = errors.New("tenant may not use this bot")

	ErrBotNotFound     = errors.New("bot not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrPlaceholderCreate is returned synchronously when the assistant
	// placeholder insert fails. An ACK referencing a row that does not exist
	// would leave the client polling for something that can never resolve.
	ErrPlaceholderCreate = errors.New("assistant placeholder creation failed")
)
