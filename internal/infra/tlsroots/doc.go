// Package tlsroots builds TLS configurations for both ends of the
// transport.
//
// The server side serves a certificate pair that is reloaded when either
// file changes on disk. The client side trusts the system roots plus an
// optional CA bundle, for servers signed by a private authority.
package tlsroots
