// Package auth issues and validates the JWT bearer tokens that guard the
// HTTP API.
//
// The control plane runs with a single operator credential from the
// configuration file, so there is no user store: a successful login mints
// an HS256-signed access token and every later request is validated by
// signature and expiry alone.
package auth
