package store

import (
	"context"

	"github.com/example/face-login/internal/biometric"
)

// NopBackend keeps nothing; the store is then purely in memory.
type NopBackend struct{}

func (NopBackend) SaveIdentity(context.Context, biometric.Identity) error { return nil }

func (NopBackend) SaveTemplate(context.Context, biometric.Template) error { return nil }

func (NopBackend) SaveTemplateWithIdentity(context.Context, biometric.Identity, biometric.Template) error {
	return nil
}

func (NopBackend) LoadIdentities(context.Context) ([]biometric.Identity, error) { return nil, nil }

func (NopBackend) LoadTemplates(context.Context) ([]biometric.Template, error) { return nil, nil }
