package provider

import (
	"golang.org/x/oauth2"
)

const (
	// DefaultClientID is the public OAuth2 client identifier shipped with xterm.
	// This is a public client (no client secret) using PKCE for security.
	DefaultClientID = "cjVHaDdhTW5FUGJTZmo0eUJIcUw6MTpjaQ"

	// DefaultRedirectURI is the loopback redirect registered for DefaultClientID.
	DefaultRedirectURI = "http://127.0.0.1:8787/callback"
)

// Endpoint defines the OAuth2 endpoints for X authentication.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://x.com/i/oauth2/authorize",
	TokenURL: "https://api.x.com/2/oauth2/token",
}

// Scopes are the OAuth scopes requested at login. offline.access is what
// makes the provider issue a refresh token.
var Scopes = []string{
	"tweet.read",
	"tweet.write",
	"users.read",
	"media.write",
	"offline.access",
}
