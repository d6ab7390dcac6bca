// Package executor runs single plan steps against a browser session. It
// dispatches navigation, waits, interactions and verifications, resolving
// interactive targets through the discovery engine and falling back
// between structural and perceptual resolution under a bounded recursion
// guard.
package executor
