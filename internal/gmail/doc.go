// Package gmail is the mailbox collaborator used by ingestion: a rate-limited
// REST client, OAuth token refresh, account persistence and MIME decoding.
//
// Accounts live in the config store under gmail-accounts together with their
// history checkpoint. TokenManager refreshes a token when it is within a
// minute of expiry. Decode reduces a full message to headers plus plain-text
// and HTML bodies normalized to NFKC.
package gmail
