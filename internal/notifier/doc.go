// Package notifier tells operators about failed firings.
//
// It listens on the event bus for firing.failed and firing.no_credential and
// sends a short message to a chat through a transport.Sender (the Telegram
// sender in production). Repeats of the same failure for the same job are
// suppressed for a dedup window, so an hourly job with a revoked token does
// not page every hour.
//
// Delivery is best-effort: a small queue, a shared rate limit and a bounded
// retry with jittered backoff. Nothing is persisted.
package notifier
