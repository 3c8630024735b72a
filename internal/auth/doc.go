// Package auth implements the OAuth2 authorization code login with PKCE and
// the reuse-or-refresh policy for stored tokens.
//
// A login binds a loopback Listener, records a pending authorization, sends
// the user to the provider and waits for exactly one callback:
//
//	flow, err := auth.NewFlow(p, store, auth.FlowConfig{RedirectURI: uri})
//	tokens, err := flow.Login(ctx)
//
// Later calls go through a Refresher, which only contacts the token endpoint
// once the access token is within DefaultSkew of expiry.
//
// All failures are *Error values; use errors.Is with the Err* sentinels or
// KindOf to classify them.
package auth
