// Package notifier delivers one payload to many recipients.
//
// Every delivery is an independent, single best-effort attempt: a failure for
// one recipient is logged and counted but never stops the others. Concurrency
// is bounded by a worker limit and all workers share one token-bucket limiter
// so a large fan-out stays under the transport's global send rate.
//
// Callers get a Result with the sent/total tally and the chat ids that failed.
package notifier
