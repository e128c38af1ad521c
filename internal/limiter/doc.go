// Package limiter provides the admission gate that bounds how many connect
// and probe operations a scan keeps in flight.
//
// A Limiter owns a fixed number of slots. Acquire claims a free slot with an
// atomic compare-and-swap and returns a Ticket for it; when every slot is
// taken the caller parks in a FIFO queue until a Ticket is released. Each
// release frees exactly one slot and wakes at most one parked caller, the one
// that has waited longest. A woken caller competes for the freed slot like any
// newcomer, so only the wake order is FIFO, not the claim order.
//
// Releasing a Ticket twice, or releasing a slot that is not occupied, is a
// programming error and panics.
package limiter
