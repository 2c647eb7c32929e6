// Package work runs background jobs for the game server.
//
// A WorkType is registered once and produces work items, one per subject. For
// turn work the subject is the turn ID. Items come from two places:
//
//   - Enqueue, for work requested by the turn pipeline (notify:turn, archive:turn)
//   - FindSubjects, polled on every trigger for recurring work (maintenance:*)
//
// Dependencies are scoped to the subject: archive:turn for turn 12 waits for
// notify:turn of turn 12. Work marked WhenIdle never starts while a turn is
// being processed, so SQLite maintenance does not compete with a turn
// transaction.
//
// The processor runs one item at a time. Failed items are retried up to
// MaxRetries times.
package work
