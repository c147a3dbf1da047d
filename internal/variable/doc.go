// Package variable is the access gateway in front of every process variable
// the bridge touches.
//
// A Var owns exactly one current value. Writers stage a new value through a
// WriteGuard and publish it with Commit; at most one write guard is live per
// variable. Readers attach a single Observer and pull commits with Wait (next
// unobserved commit) or Acquire (whatever value exists), each yielding a
// ReadGuard that is a snapshot of one committed value, never a mix of two.
//
// While an observer is attached, Request waits until the previous waking
// commit has been taken, so an observer sees every commit in order (policy
// PolicyEvery) or every value change in order (PolicyDistinct).
package variable
