// Package availability computes bookable interview slots from the busy
// windows reported by two independent calendar providers.
//
// The package has two layers:
//
//   - ComputeSlots is a pure function that walks a TimeRange in fixed
//     interval steps and drops every candidate that overlaps a BusyWindow.
//   - Engine fetches busy windows from the delegated (per-user OAuth) provider
//     and the app-only provider concurrently, unions them and hands them to
//     ComputeSlots.
//
// Failures are never turned into "no busy windows": if either provider fails
// the whole request fails with ErrNotLinked, ErrInvalidRange or a
// *ProviderError.
//
// Example usage:
//
//	engine := availability.NewEngine(googleFetcher, graphClient)
//	slots, err := engine.GetAvailability(ctx, availability.Request{
//	    Identity:        "auth0|123",
//	    Participants:    []string{"interviewer@example.com"},
//	    Range:           availability.TimeRange{Start: start, End: end},
//	    IntervalMinutes: 30,
//	    TimeZone:        "Asia/Kolkata",
//	})
package availability
