package email

import "context"

// Provider delivers transactional mail. Callers treat delivery as best effort.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(context.Context, []string, string, string) error {
	return nil
}

func (p *NoOpProvider) SendTemplate(context.Context, []string, string, map[string]any) error {
	return nil
}
