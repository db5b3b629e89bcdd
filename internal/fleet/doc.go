// Package fleet delivers payloads to a small fleet of BLE LED panels.
//
// The radio stack tolerates one pending connection at a time and only a few
// held links overall, so this package decides for every panel whether to
// reuse a held link or open a fresh one, how often to retry, how long each
// attempt may take, and how long to pause between radio operations.
//
// Components, leaves first:
//   - HeldLink: one long-lived session plus a guard that serializes every
//     operation on it.
//   - LinkPool: bounded registry of HeldLinks keyed by panel address. When
//     full it refuses new addresses instead of evicting.
//   - Executor: per-panel attempt loop (held link fast path, then fresh
//     sessions with timeout, retry and pacing).
//   - Coordinator: strictly sequential fan-out over many panels with one
//     SendOutcome per target, in input order.
//
// No send operation returns an error. Every failure is reported as a
// SendOutcome with Success == false.
package fleet
