// Package token issues and verifies teamchat access tokens.
//
// Access tokens are HS256 JWTs whose subject is the user id. They are handed
// out by the login endpoint and presented on the realtime identify event and
// as an HTTP bearer token.
//
// Environment:
//   - CHAT_JWT_SECRET: signing key, at least MinSecretBytes when auth is required.
package token
