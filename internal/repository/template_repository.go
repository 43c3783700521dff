package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-login/internal/biometric"
	"github.com/example/face-login/internal/retry"
)

// IdentityRecord is the persisted form of an enrolled identity.
type IdentityRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:128"`
	DisplayName string    `gorm:"column:display_name;size:256"`
	Seq         uint64    `gorm:"column:seq;uniqueIndex"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (IdentityRecord) TableName() string {
	return "identities"
}

// TemplateRecord stores one embedding as a float32 blob.
type TemplateRecord struct {
	ID         string    `gorm:"column:id;primaryKey;size:26"`
	IdentityID string    `gorm:"column:identity_id;index;size:128;not null"`
	Dimension  int       `gorm:"column:dimension"`
	Embedding  []byte    `gorm:"column:embedding"`
	CapturedAt time.Time `gorm:"column:captured_at"`
}

// TableName overrides the default table name.
func (TemplateRecord) TableName() string {
	return "templates"
}

// TemplateRepository is the durable backend of the template store.
type TemplateRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewTemplateRepository creates a repository over db.
func NewTemplateRepository(db *gorm.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger.Named("template_repository"), retry: retry.DefaultPolicy()}
}

// AutoMigrate ensures the schema is available.
func (r *TemplateRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&IdentityRecord{}, &TemplateRecord{})
}

// SaveIdentity inserts a new identity row.
func (r *TemplateRepository) SaveIdentity(ctx context.Context, identity biometric.Identity) error {
	rec := toIdentityRecord(identity)
	return r.retry.Do(ctx, r.logger, "repository.save_identity", "", func() error {
		return r.db.WithContext(ctx).Create(rec).Error
	})
}

// SaveTemplate inserts a new template row.
func (r *TemplateRepository) SaveTemplate(ctx context.Context, tmpl biometric.Template) error {
	rec := toTemplateRecord(tmpl)
	return r.retry.Do(ctx, r.logger, "repository.save_template", "", func() error {
		return r.db.WithContext(ctx).Create(rec).Error
	})
}

// SaveTemplateWithIdentity inserts a new identity and its first template in
// one transaction.
func (r *TemplateRepository) SaveTemplateWithIdentity(ctx context.Context, identity biometric.Identity, tmpl biometric.Template) error {
	return r.retry.Do(ctx, r.logger, "repository.save_template_with_identity", "", func() error {
		identityRec := toIdentityRecord(identity)
		templateRec := toTemplateRecord(tmpl)
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(identityRec).Error; err != nil {
				return err
			}
			return tx.Create(templateRec).Error
		})
	})
}

func toIdentityRecord(identity biometric.Identity) *IdentityRecord {
	return &IdentityRecord{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		Seq:         identity.Seq,
		CreatedAt:   identity.CreatedAt,
	}
}

func toTemplateRecord(tmpl biometric.Template) *TemplateRecord {
	return &TemplateRecord{
		ID:         tmpl.ID,
		IdentityID: tmpl.IdentityID,
		Dimension:  len(tmpl.Embedding),
		Embedding:  encodeEmbedding(tmpl.Embedding),
		CapturedAt: tmpl.CapturedAt,
	}
}

// LoadIdentities returns every identity in enrollment order.
func (r *TemplateRepository) LoadIdentities(ctx context.Context) ([]biometric.Identity, error) {
	var records []IdentityRecord
	if err := r.db.WithContext(ctx).Order("seq").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	out := make([]biometric.Identity, 0, len(records))
	for _, rec := range records {
		out = append(out, biometric.Identity{
			ID:          rec.ID,
			DisplayName: rec.DisplayName,
			Seq:         rec.Seq,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return out, nil
}

// LoadTemplates returns every template ordered by id, which is capture order.
func (r *TemplateRepository) LoadTemplates(ctx context.Context) ([]biometric.Template, error) {
	var records []TemplateRecord
	if err := r.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	out := make([]biometric.Template, 0, len(records))
	for _, rec := range records {
		emb, err := decodeEmbedding(rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", rec.ID, err)
		}
		out = append(out, biometric.Template{
			ID:         rec.ID,
			IdentityID: rec.IdentityID,
			Embedding:  emb,
			CapturedAt: rec.CapturedAt,
		})
	}
	return out, nil
}
