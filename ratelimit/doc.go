// Package ratelimit provides the limiters shared by the send worker pool.
package ratelimit
