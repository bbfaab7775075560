// Package webhooks verifies and reconciles provider delivery events.
//
// Events are logged once per signed message id before any ledger change is
// applied, so provider retries of the same event are acknowledged with
// already_processed and have no further effect.
package webhooks
