// Package credstore persists the cookie header obtained from a completed handshake,
// one value per profile, so backend tools can reuse the browser session.
//
// Supports four backends with different security and deployment tradeoffs:
//   - File: one 0600 file per profile with atomic writes
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: read-only environment variable access (requires external secret management)
//   - None: discards writes; the agent only receives a success signal
//
// Completing a handshake requires writable storage (file, keyring or none); env
// storage can only answer credential checks.
package credstore
