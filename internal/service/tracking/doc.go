// Package tracking applies provider webhook events to outbound email
// records.
//
// Each event sets at most one lifecycle timestamp on the record it names.
// Opens and replies to a welcome email additionally fire the one-shot
// property availability email. All writes are conditional so concurrent
// deliveries of the same event, or an event racing the follow-up sweep,
// leave the record in the same state as a single delivery would.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package tracking
