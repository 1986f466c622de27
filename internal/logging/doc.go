// Package logging provides structured logging helpers for slotfinder.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes sure identities, participant emails and OAuth tokens
// never reach the logs in clear text.
//
// Create a logger for a component:
//
//	logger := logging.WithProvider(slog.Default(), "google")
//	logger.Info("freebusy query finished",
//	    logging.IdentityHash(identity),
//	    logging.Status(logging.StatusSuccess))
//
// Build the process logger from configuration:
//
//	logger := logging.New(os.Stderr, logging.ParseLevel("debug"), "json")
//	slog.SetDefault(logger)
package logging
