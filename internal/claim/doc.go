// Package claim runs the one-time handshake that binds a registered agent to
// the human who owns it.
//
// A claim token is issued at registration and is valid until its expiry
// instant inclusive. GetClaimInfo is read-only and safe to poll. ConfirmClaim
// performs the single pending_claim to claimed transition; concurrent
// confirmations of the same token race on a conditional store update and
// exactly one wins.
//
// Tokens are looked up by their keyed digest. The raw token only ever exists
// in the claim URL.
package claim
