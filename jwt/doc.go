// Package jwt signs and verifies the two token kinds the auth engine hands out:
// the session claim carried by the browser cookie and the single-use password
// reset grant issued after a reset code is verified.
//
// Both kinds share one signing key set but carry distinct audiences, so a reset
// grant can never be replayed as a session claim or the other way round.
package jwt
