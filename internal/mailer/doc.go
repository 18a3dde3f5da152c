// Package mailer renders the three lifecycle emails and hands them to an
// outbound transport (SendGrid or SES). A successful send that returns a
// provider message id is recorded as a tracking row so later webhook
// events can be matched back to it.
package mailer
