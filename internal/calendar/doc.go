// Package calendar fetches busy windows from the Google Calendar free/busy
// API on behalf of a linked identity.
//
// Example usage:
//
//	auth := google.NewDelegatedAuth(conf, store)
//	fetcher := calendar.NewFetcher(auth)
//
//	busy, err := fetcher.FetchBusy(ctx, "auth0|123", "primary", r, "Asia/Kolkata")
//	if errors.Is(err, availability.ErrNotLinked) {
//	    // ask the user to connect their calendar
//	}
package calendar
