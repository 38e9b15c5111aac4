// Package action provides the capability that actually performs workflow
// steps. A Registry dispatches an action type to its Handler; the simulated
// desktop provider and the HTTP remote provider are the two implementations
// shipped with the daemon.
package action
