package database

import "github.com/leca/dt-image-store/internal/model"

// Database journals the images held in the permanent store so they can be
// listed and paginated without scanning the directory.
type Database interface {
	RecordImage(img model.Image) error
	DeleteImage(name string) error
	GetImage(name string) (model.Image, error)
	ListImages(page, perPage int) ([]model.Image, int, error)
	CountImages() (int, error)

	// Reconcile makes the journal match images exactly, as found on disk at startup.
	Reconcile(images []model.Image) (added, removed int, err error)

	Close() error
}
