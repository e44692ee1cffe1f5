// Package chat connects the bot to Twitch IRC.
//
// Every PRIVMSG in TWITCH_CHANNEL goes through the message pipeline: the sender
// is resolved to a canonical identity, a coned sender's message is echoed back
// transformed, and everything else lands in the sender's conversation window.
//
// Commands (prefix "!" or "/"):
//   - ping: liveness check.
//   - confirm_link: completes a link request addressed to the sender's login.
//   - update_summary: refreshes the sender's summaries immediately.
//
// Credentials: the IRC client requires a bot username and a user token with
// chat:read/chat:edit scopes. TWITCH_OAUTH_TOKEN is used as-is; otherwise
// TWITCH_REFRESH_TOKEN is exchanged for a fresh token on every (re)connect.
package chat
