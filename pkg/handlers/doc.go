// Package handlers contains the concrete batch handlers the dispatcher can
// run, and registers their factories by name:
//
//   - workflow_purge: cascading delete of soft-deleted workflow runtime items
//     with their steps and actors, grandchildren first.
//   - actor_cleanup: deletes stuck PROCESSING actors left under long-accepted
//     workflow items, without touching the parent rows.
//   - resource_purge: deletes soft-deleted work-resource rows and the
//     resource items they reference.
//   - migration: copies committed rows from a source table to an identical
//     target table on another database, then deletes them from the source.
//
// Every handler selects at most batch-size candidate rows ordered by primary
// key with FOR UPDATE and does all of a batch's work inside one transaction.
// A batch that finds fewer candidates than the batch size has drained the
// queue and reports finished; a full batch asks for another round. Errors
// roll the batch back and propagate; they are never converted into
// "finished", which would silently end the day's processing with work still
// pending.
package handlers
