// Package resources provides read-only MCP resources describing the running
// server and the calling identity.
//
// Resources:
//   - slotfinder://settings: slot and range limits, default time zone and
//     which providers are configured
//   - slotfinder://link-status: whether the caller has linked a Google
//     calendar (HTTP transport only, where the caller identity is known)
package resources
