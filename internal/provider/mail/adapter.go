package mail

import (
	"context"
	"time"

	"github.com/nhle/lifeflow/internal/provider"
)

// defaultFetchLimit caps how many messages one ingestion run pulls.
const defaultFetchLimit = 200

// Adapter implements provider.MailSource over IMAP.
type Adapter struct {
	client *IMAPClient
	limit  int
}

// NewAdapter creates a mail adapter for one mailbox.
func NewAdapter(host, port, username, password string, tls bool) *Adapter {
	return &Adapter{
		client: NewIMAPClient(host, port, username, password, tls),
		limit:  defaultFetchLimit,
	}
}

var _ provider.MailSource = (*Adapter)(nil)

// FetchMessages returns INBOX messages received at or after since,
// most recent last.
func (a *Adapter) FetchMessages(ctx context.Context, since time.Time) ([]provider.Message, error) {
	return a.client.fetchSince(ctx, since, a.limit)
}
