// Package auth resolves API credentials to user identities and enforces
// per-user rate limits.
//
// Credentials arrive as the x-api-key header or, equivalently, as an
// Authorization bearer token. Resolution consults the key-value store in
// three steps: the fixed development key, the apikey:<credential> index,
// and finally a legacy direct lookup of the credential itself.
package auth
