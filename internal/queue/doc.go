// Package queue holds the ordered, label-indexed list of scan requests and
// their collection status.
//
// ScanQueue is the single source of truth for queue contents. It owns items
// by value: Items and Get return copies, and other components refer to items
// by label or position and resolve them through the queue. Insertion order is
// execution order; only MoveUp and MoveDown reorder items.
//
// Status only moves forward (queued, collecting, complete) except through an
// explicit Reset. Observers registered with Subscribe receive a typed Event
// after every mutation.
//
// Store snapshots the queue into SQLite so the daemon can restore it after a
// restart. The database is transient: schema changes bump schemaVersion and
// users clear the database to adopt them.
package queue
