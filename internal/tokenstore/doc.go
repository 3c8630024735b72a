// Package tokenstore persists the OAuth credential and the in-flight
// authorization attempt.
//
// A Store holds two independently keyed slots, each backed by a Backend:
//   - the token set (access token, refresh token, expiry)
//   - the pending authorization (PKCE verifier, state, attempt id)
//
// Supports two storage backends with different security tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// The file layout is compatible with earlier releases of the tool:
//
//	~/.xterm/tokens.json       {"accessToken", "refreshToken", "expiresAt"}
//	~/.xterm/oauth_state.json  {"codeVerifier", "state", "createdAt", "attempt"}
//
// Loads never return errors. A missing or corrupt document means "not logged in".
package tokenstore
