// Package session runs the privileged multi-step forms: adding a class,
// posting a notice, uploading resources and broadcasting a message.
//
// Each chat has at most one session. A session is opened by Begin (subject to
// the auth gate), advanced one turn at a time by Handle and closed on commit,
// on Cancel, or after sitting idle past the configured timeout. Invalid input
// re-prompts the same step. The resource flow stays open after each upload
// until it is cancelled.
//
// A broadcast turn returns at once with Reply.Pending set. The caller runs it
// in the background and delivers its reply. Until it returns, the chat stays
// in StepRelaying: turns get a busy reply, Begin refuses and Cancel aborts the
// relay.
package session
