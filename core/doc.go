// Package core holds the notification domain, the store and provider
// contracts, and the collect, compose and send stages. Adapters depend on
// core; core does not import storage, transport or provider packages.
package core
