// Package tracking is the ingress side of provider event webhooks: it checks
// the signature, decodes the provider payload into canonical events, and
// optionally archives the raw body.
package tracking
