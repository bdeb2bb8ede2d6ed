// Package events runs the discrete-event sequence at a time, state or
// step event for a set of model-exchange units.
package events
