package hybridflow_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/hybridflow/hybridflow/kv"
	"github.com/hybridflow/hybridflow/oidc"
	"github.com/hybridflow/hybridflow/session"
)

func Example_session() {
	ctx := context.Background()

	// Create a new Config for the realm's client
	pc, err := oidc.NewConfig("https://sso.example.com", "acme", "spa")
	if err != nil {
		// handle error
	}

	// The pending request store is scoped to the tab, the token store
	// outlives page loads.
	tokens := kv.NewMemoryStore()
	e, err := session.NewEngine(pc, session.Stores{Pending: kv.NewMemoryStore(), Tokens: tokens},
		session.WithLogoutFunc(func(ev session.LogoutEvent) {
			fmt.Println("logged out:", ev.Reason)
		}),
	)
	if err != nil {
		// handle error
	}
	defer e.Close()

	// On every page load, hand the engine the page's URL and whatever
	// tokens an earlier load stored.
	stored, err := e.Restore(ctx)
	if err != nil && !errors.Is(err, oidc.ErrNotFound) {
		// handle error
	}
	res, err := e.Init(ctx, "https://app.example.com/#/inbox", stored)
	switch {
	case errors.Is(err, oidc.ErrNoContinuation):
		// not logged in: send the user agent to the provider
		loginURL, err := e.LoginURL(ctx, "https://app.example.com/#/inbox")
		if err != nil {
			// handle error
		}
		fmt.Println("redirect to:", loginURL)
	case err != nil:
		// handle error
	default:
		fmt.Println("logged in, show:", res.NewURL)
	}

	// Report user interactions so the session is not ended for inactivity.
	e.Touch()
}
