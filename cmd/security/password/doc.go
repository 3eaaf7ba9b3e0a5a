// Package password hashes and verifies teamchat account passwords with Argon2id.
//
// Hashes use the PHC string layout ($argon2id$v=19$m=..,t=..,p=..$salt$key).
// Encoded hashes are treated as untrusted on Verify: parameters far beyond the
// configured cost are refused instead of computed.
package password
