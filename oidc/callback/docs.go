/*
callback is a package that resolves the URL the user agent lands on after the
provider redirects back with its response in the URL fragment.

Resolve splits the fragment into the provider's parameters and the
application's own fragment (which is preserved in Continuation.NewURL), and
consumes the pending oidc.Request exactly once.  Complete then exchanges the
continuation's code for tokens.
*/
package callback
