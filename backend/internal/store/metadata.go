// Package store holds the document metadata persistence, consumed by the
// collaboration core as an external collaborator: metadata failures never
// affect an already-committed edit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("DOCUMENT_NOT_FOUND")

type DocumentMetadata struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Title         string    `gorm:"size:255" json:"title"`
	CreatedBy     string    `gorm:"size:64" json:"createdBy"`
	CreatedByName string    `gorm:"size:255" json:"createdByName"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (DocumentMetadata) TableName() string { return "document_metadata" }

type MetadataStore struct {
	db *gorm.DB
}

func NewMetadataStore(db *gorm.DB) *MetadataStore {
	return &MetadataStore{db: db}
}

// AutoMigrate creates the metadata table when missing.
func (s *MetadataStore) AutoMigrate() error {
	return s.db.AutoMigrate(&DocumentMetadata{})
}

func (s *MetadataStore) Create(ctx context.Context, title, createdBy, createdByName string) (DocumentMetadata, error) {
	meta := DocumentMetadata{
		ID:            uuid.NewString(),
		Title:         title,
		CreatedBy:     createdBy,
		CreatedByName: createdByName,
	}
	if err := s.db.WithContext(ctx).Create(&meta).Error; err != nil {
		return DocumentMetadata{}, err
	}
	return meta, nil
}

func (s *MetadataStore) Get(ctx context.Context, id string) (DocumentMetadata, error) {
	var meta DocumentMetadata
	err := s.db.WithContext(ctx).First(&meta, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentMetadata{}, ErrNotFound
	}
	if err != nil {
		return DocumentMetadata{}, err
	}
	return meta, nil
}

func (s *MetadataStore) List(ctx context.Context) ([]DocumentMetadata, error) {
	var out []DocumentMetadata
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&out).Error
	return out, err
}

// TouchUpdatedAt refreshes the document's updated-at stamp after an
// append. Invoked off the critical path.
func (s *MetadataStore) TouchUpdatedAt(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&DocumentMetadata{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}
