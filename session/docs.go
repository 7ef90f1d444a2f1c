/*
Package session runs the lifecycle of a session obtained with the oidc
package.

An Engine ties the pieces together.  Init resolves the URL the user agent
landed on, completes a provider redirect or reinstalls tokens persisted by an
earlier page load, persists the installed tokens and arms the Scheduler:

  - the refresh timer fires a threshold (DefaultRefreshThreshold) before the
    access token expires and refreshes the tokens.  A refresh token rejected
    by the provider ends the session; any other failure is retried while the
    access token is still valid.
  - the inactivity timer ends the session once no interaction was recorded
    for the maximum inactivity (DefaultMaxInactivity, replaced by the
    provider's refresh_expires_in when it reports one).

Interactions are recorded with Touch.  They are debounced and broadcast to
every other engine sharing Stores.Activity, so activity in one tab keeps the
others alive.  When the provider Config enables it and a host page is given
with WithSSOHost, the engine also runs an sso.Synchronizer which ends the
session when the provider's own session ends.

Every way a session ends goes through Engine.Logout, which invokes the hook
registered with WithLogoutFunc once with a LogoutEvent naming the reason.
*/
package session
