// Package inbound exposes the HTTP surface: provider webhooks, the admin
// trigger, unsubscribe links, health and metrics.
//
// Every error leaves as the go-errors envelope produced by core.MapError.
package inbound
