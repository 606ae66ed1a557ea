// Package bot routes inbound chat messages.
//
// Updates from the transport pass through a Dispatcher, which shards them by
// chat id so one chat's turns never overlap, and then through the Router,
// which resolves the text to a Command once and decides between slash
// commands, the chat's active form session and the read-only screens.
package bot
