// Package xapi is a small client for the X API v2 endpoints used by xterm:
// the authenticated user, creating posts and chunked media uploads.
//
// Authorization comes from an oauth2.TokenSource, so token refresh and
// persistence stay outside this package. Idempotent requests and 429
// responses are retried; a post is never sent twice.
package xapi
