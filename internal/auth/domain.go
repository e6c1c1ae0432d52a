// Package auth authenticates operator requests on the admin surface and
// resolves the account they act as.
package auth

// ActorHeader names the account an operator request acts on behalf of.
const ActorHeader = "X-Actor-ID"

// bearerPrefix is the Authorization scheme operators present.
const bearerPrefix = "Bearer "
