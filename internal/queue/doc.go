// Package queue persists background work items in SQLite and owns their
// lifecycle.
//
// Store is pure persistence over the queue_items table plus the listing and
// match tables used by the orphan audit. Service layers the state machine on
// top: submissions validate their type-specific payloads, Update only permits
// forward transitions, and the two privileged ways back to pending are Retry
// (from failed) and UnblockItem/UnblockAll (from blocked). RecoverStuckProcessing
// is the compensating action for workers that died mid-task.
//
// Payloads are a closed sum type keyed by the item type and are decoded
// strictly when rows are read, so a payload that does not match its type
// surfaces as an error rather than a silently empty struct.
package queue
