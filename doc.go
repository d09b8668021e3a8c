// Package redis is a RESP3 client for Redis-compatible servers.
//
// A Client multiplexes commands over a bounded pool of connections, with
// optional circuit breaking, client-side caching, and periodic health
// checks. Lower layers are usable on their own: Connection for a single
// authenticated connection, and package resp for the wire protocol.
package redis
