// Package tools is the agent-facing boundary of the broker. It exposes the
// handshake as tools an agent's reasoning loop can call: start_auth issues a token,
// check_auth_token consumes the delivered cookies.
//
// Tools read the broker's store directly, in-process. They must never call the
// HTTP endpoints of the process they run in: with a single-worker server that
// request would queue behind the handler waiting for it.
package tools
