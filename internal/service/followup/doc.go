// Package followup implements the time-driven half of the drip sequence:
// welcome emails that aged past the threshold without a bounce or an
// earlier second email get the generic follow-up.
//
// The timer that calls SendBatch lives in internal/worker.
package followup
