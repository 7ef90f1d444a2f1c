/*
Package oidc provides the client side of the OpenID Connect hybrid flow: the
authorization code is delivered in the redirect's URL fragment and exchanged
for tokens by the client itself, without a server-side session store.

Primary types provided by the package

* Config: the immutable configuration of a provider realm and the client
authenticating against it (base URL, realm, client id, SSO settings, nonce
checking).  Endpoint URLs are derived from it.

* Request: a pending authentication request (state, nonce and redirect URL)
persisted in a kv.Store right before the user agent leaves for the provider,
and consumed exactly once on the redirect back.

* TokenSet: the access, refresh and id tokens of a session along with their
decoded claims.  The tokens are installed and cleared as a unit, and every
change advances a generation so that a request started before a logout
cannot resurrect tokens after it.

* Provider: builds login and logout URLs, exchanges authorization codes
(verifying nonces) and refreshes tokens.

* Claims: the decoded payload of a token.  See DecodeClaims.  Signatures are
not verified.

The oidc/callback package

The callback package resolves the URL the user agent was redirected to into
a Continuation, correlating it with the pending Request.

The oidc/sso package

The sso package keeps a session in sync with the provider's session through
the provider's session-check page, signalling a forced logout when the
provider session changes.

Testing

TestProvider is a local provider realm which issues real (signed) tokens.
TestSignJWT and TestToken create tokens for unit tests.
*/
package oidc
