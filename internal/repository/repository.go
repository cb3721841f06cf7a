// Package repository declares the storage contracts used by the service layer.
package repository

import (
	"context"

	"github.com/sakif/linkedin-profile-viewer/internal/model"
)

// ProfileRepository persists LinkedIn profiles keyed by ProviderSubjectID.
//
// Implementations return apperror.ErrNotFound when no record matches and
// apperror.ErrStorageUnavailable for any driver failure.
type ProfileRepository interface {
	// Upsert creates the record for profile.ProviderSubjectID or updates the
	// existing one in a single atomic store operation. CreatedAt of an
	// existing record is preserved; profile is refreshed with the stored
	// bookkeeping fields on return.
	Upsert(ctx context.Context, profile *model.Profile) error

	GetBySubject(ctx context.Context, subjectID string) (*model.Profile, error)

	// Latest returns the most recently created record across all members.
	// Only meaningful for single-tenant deployments.
	Latest(ctx context.Context) (*model.Profile, error)

	MarkSignedIn(ctx context.Context, subjectID string) error
	MarkSignedOut(ctx context.Context, subjectID string) error
}
