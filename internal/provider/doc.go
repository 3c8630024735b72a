// Package provider talks to the X OAuth2 endpoints: it builds the
// authorization URL and performs the authorization code and refresh token
// grants.
//
// # Usage
//
//	p, err := provider.New(provider.Config{
//		ClientID:    provider.DefaultClientID,
//		RedirectURI: provider.DefaultRedirectURI,
//	})
//	url := p.AuthCodeURL(codes)
//	token, err := p.Exchange(ctx, code, codes.Verifier)
//
// # Custom Base Transport
//
// Configure a custom base transport for token requests (e.g., for proxies or tests):
//
//	p, err := provider.New(cfg, provider.WithTransport(customTransport))
package provider
