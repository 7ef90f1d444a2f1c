// hybridflow keeps a browser application's session with an OpenID Connect
// provider using the hybrid authorization code flow with fragment responses.
//
// The oidc package builds login and logout URLs, exchanges and refreshes
// tokens and decodes their claims.  The oidc/callback package resolves the
// URL the provider redirected back to.  The oidc/sso package detects the end
// of the provider's own session.  The session package ties them together
// with refresh and inactivity timers.  Persistence goes through the kv
// package, with a SQLite implementation in kv/sqlite.
package hybridflow
