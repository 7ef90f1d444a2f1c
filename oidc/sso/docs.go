/*
Package sso implements single sign-out detection for a session established
with the provider.

The provider exposes a session-check page which, embedded in a hidden frame,
answers "unchanged", "changed" or "error" to messages carrying the client id
and the session state of the current access token.  A Synchronizer polls the
frame every Config.Interval; any answer other than "unchanged", received from
the provider's origin and from the embedded frame itself, ends the local
session.

The page itself is abstracted behind the Host interface so the protocol can be
driven by a browser bridge or, in tests, by TestHost.
*/
package sso
