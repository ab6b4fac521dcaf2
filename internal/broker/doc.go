// Package broker implements the in-memory rendezvous between an agent that issues
// auth tokens and a browser extension that delivers session cookies for them.
//
// A token moves through four states, observed only as presence or absence in the
// pending table:
//
//	ISSUED     agent generated the token and stored it in the latest-token slot
//	DELIVERED  extension posted cookies under the token (row exists)
//	CONSUMED   the single permitted consumer read and removed the row
//	EXPIRED    a sweep removed the row after the TTL elapsed
//
// CONSUMED and EXPIRED are terminal. Callers cannot tell "not delivered yet",
// "consumed" and "expired" apart; all three report Ready=false.
//
// The Store is process-local and must be shared by pointer between the HTTP
// boundary and the in-process tool boundary. The tool boundary must never reach
// the store through the HTTP listener of the same process.
package broker
