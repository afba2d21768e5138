package types

// Version identifies a committed snapshot of the database. Versions are
// assigned by the durable history in strictly increasing order; a session
// never observes a version lower than one it has already bound to.
type Version uint64
