// Package sources builds provider adapters from stored credentials and
// the deployment's endpoint configuration.
package sources

import (
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
	"github.com/nhle/lifeflow/internal/provider/calendar"
	"github.com/nhle/lifeflow/internal/provider/mail"
	"github.com/nhle/lifeflow/internal/provider/taskmanager"
)

// Factory builds one adapter per source kind. It satisfies both the
// ingestion pipeline's and the sync engine's factory contracts.
type Factory struct {
	cfg model.ProvidersConfig
}

// NewFactory creates a factory over the configured endpoints.
func NewFactory(cfg model.ProvidersConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Calendar returns a calendar source authenticated with cred.
func (f *Factory) Calendar(cred *model.ProviderCredential) (provider.CalendarSource, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, flow.Errorf(flow.KindAuthRequired, "sources.calendar", "no usable credential")
	}
	return calendar.NewAdapter(f.cfg.CalendarBaseURL, cred.AccessToken, f.cfg.CalendarID), nil
}

// Mail returns a mail source. The IMAP login uses the configured
// username with the credential's access token as an XOAUTH2 secret.
func (f *Factory) Mail(cred *model.ProviderCredential) (provider.MailSource, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, flow.Errorf(flow.KindAuthRequired, "sources.mail", "no usable credential")
	}
	return mail.NewAdapter(f.cfg.MailHost, f.cfg.MailPort, f.cfg.MailUsername, cred.AccessToken, f.cfg.MailTLS), nil
}

// TaskManager returns a task-manager source authenticated with cred.
func (f *Factory) TaskManager(cred *model.ProviderCredential) (provider.TaskManagerSource, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, flow.Errorf(flow.KindAuthRequired, "sources.task_manager", "no usable credential")
	}
	return taskmanager.NewAdapter(f.cfg.TaskManagerBaseURL, cred.AccessToken), nil
}
