// Package workflow is the orchestration core. It validates workflow
// definitions, runs their steps one at a time through an action executor,
// gates every step on its dependencies, retries failures with exponential
// backoff and records one StepResult per step. Runs in flight are tracked in an
// active registry that answers status queries and cancellation; finished runs
// are handed to a ResultStore.
package workflow
