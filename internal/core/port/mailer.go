package port

import "context"

// Mailer delivers rendered HTML messages to a single recipient.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, htmlBody string) error
}
