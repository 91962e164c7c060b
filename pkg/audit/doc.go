// Package audit records who did what to which entity in which project.
//
// Entries are append-only and flow through a Sink:
//
//	sink, err := audit.NewDBSink(db)
//	err = sink.Write(ctx, audit.NewEntry(userID, projectID, audit.ActionUpdate, "budget_items", id))
//
// MultiSink fans out to several sinks, MemorySink backs tests.
//
// SecurityLogger is a separate channel for rejected requests. The request
// pipeline writes every authentication and authorization failure to it with
// the correlation id returned to the caller.
package audit
