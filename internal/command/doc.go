// Package command stores commands dispatched to device agents.
//
// A command is created pending and resolved at most once, to completed or
// failed, by the response of the device it targets. Complete enforces this
// with a conditional update, so a late or duplicated response cannot
// overwrite a terminal state.
//
// Commands have no expiry: one sent to an unreachable device stays pending
// until that device answers it.
package command
