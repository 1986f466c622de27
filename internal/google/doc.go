// Package google implements the delegated (per-user) OAuth client for Google
// Calendar.
//
// Users link their calendar once through the consent flow (AuthURL, Link).
// Afterwards ForIdentity hands out HTTP clients that refresh the access
// token transparently and persist every refreshed token to the token store
// before the request that triggered the refresh returns.
package google
