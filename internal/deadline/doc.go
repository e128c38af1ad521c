// Package deadline races blocking operations against a timer.
//
// Every connect, read and probe exchange of a scan goes through Await or
// AwaitOrRelease, which makes this package the single place where a
// network operation is bounded in time. The losing side of the race is
// cancelled through its context, and anything it still produces after the
// race is decided can be handed to a release function so no connection is
// leaked on the timed-out path.
package deadline
