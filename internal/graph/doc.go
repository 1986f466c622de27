// Package graph talks to Microsoft Graph with app-only credentials.
//
// AppAuth acquires and caches client-credentials tokens for the tenant.
// Client reads participant schedules through calendar/getSchedule and
// creates events in a user's calendar. Every call that gets HTTP 401
// invalidates the cached token, acquires a new one and is retried once.
package graph
