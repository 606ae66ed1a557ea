// Package storage is the bot's durable record keeper.
//
// It keeps:
//   - Recipients (registered on first contact, never deleted)
//   - Today's class events (wiped at the daily boundary)
//   - Notices and resources (append-only, listed newest first)
//   - An audit log of privileged actions
//
// Every call runs in its own short transaction; no transaction is held while
// waiting on the network.
package storage
