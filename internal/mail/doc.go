// Package mail delivers rendered job messages. The scheduler only sees the
// Transport interface; GmailTransport is the production implementation.
package mail
