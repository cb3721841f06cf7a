package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
	"github.com/sakif/linkedin-profile-viewer/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `provider_subject_id, name, given_name, family_name, email,
	email_verified, picture, locale, access_token, refresh_token, token_expires_at,
	is_signed_in, is_signed_out, last_sign_in_at, created_at, updated_at`

// Upsert inserts or updates the profile keyed by its ProviderSubjectID.
//
// INSERT ... ON CONFLICT DO UPDATE is a single statement, so two callbacks
// racing for the same member cannot create two rows or lose an update.
// created_at is only written on insert; last_sign_in_at is only overwritten
// when the caller supplies one.
func (db *DB) Upsert(ctx context.Context, profile *model.Profile) error {
	if profile.ProviderSubjectID == "" {
		return apperror.ValidationFailed("providerSubjectId", "provider subject id is required")
	}

	now := db.now().UTC()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_subject_id) DO UPDATE SET
			name             = excluded.name,
			given_name       = excluded.given_name,
			family_name      = excluded.family_name,
			email            = excluded.email,
			email_verified   = excluded.email_verified,
			picture          = excluded.picture,
			locale           = excluded.locale,
			access_token     = excluded.access_token,
			refresh_token    = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			is_signed_in     = excluded.is_signed_in,
			is_signed_out    = excluded.is_signed_out,
			last_sign_in_at  = COALESCE(excluded.last_sign_in_at, profiles.last_sign_in_at),
			updated_at       = excluded.updated_at`,
		profile.ProviderSubjectID,
		profile.Name,
		profile.GivenName,
		profile.FamilyName,
		profile.Email,
		profile.EmailVerified,
		profile.Picture,
		profile.Locale,
		profile.AccessToken,
		profile.RefreshToken,
		nullTime(profile.TokenExpiresAt),
		profile.IsSignedIn,
		profile.IsSignedOut,
		nullTimePtr(profile.LastSignInAt),
		now,
		now,
	)
	if err != nil {
		return apperror.StorageUnavailable("upsert profile", err)
	}

	stored, err := db.GetBySubject(ctx, profile.ProviderSubjectID)
	if err != nil {
		return err
	}
	stored.Positions = profile.Positions
	*profile = *stored
	return nil
}

// GetBySubject returns the profile stored for subjectID.
func (db *DB) GetBySubject(ctx context.Context, subjectID string) (*model.Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE provider_subject_id = ?`,
		subjectID,
	)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", subjectID)
		}
		return nil, apperror.StorageUnavailable("get profile", err)
	}
	return p, nil
}

// Latest returns the most recently created profile.
func (db *DB) Latest(ctx context.Context) (*model.Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "no profile stored"}
		}
		return nil, apperror.StorageUnavailable("get latest profile", err)
	}
	return p, nil
}

// MarkSignedIn flags the profile as signed in and stamps last_sign_in_at.
func (db *DB) MarkSignedIn(ctx context.Context, subjectID string) error {
	now := db.now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET is_signed_in = 1, is_signed_out = 0, last_sign_in_at = ?, updated_at = ?
		 WHERE provider_subject_id = ?`,
		now, now, subjectID,
	)
	return checkAffected(res, err, "mark signed in", subjectID)
}

// MarkSignedOut flags the profile as signed out.
func (db *DB) MarkSignedOut(ctx context.Context, subjectID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET is_signed_in = 0, is_signed_out = 1, updated_at = ?
		 WHERE provider_subject_id = ?`,
		db.now().UTC(), subjectID,
	)
	return checkAffected(res, err, "mark signed out", subjectID)
}

func checkAffected(res sql.Result, err error, op, subjectID string) error {
	if err != nil {
		return apperror.StorageUnavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.StorageUnavailable(op, err)
	}
	if n == 0 {
		return apperror.NotFound("profile", subjectID)
	}
	return nil
}

func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		p            model.Profile
		tokenExpires sql.NullTime
		lastSignIn   sql.NullTime
	)
	err := row.Scan(
		&p.ProviderSubjectID,
		&p.Name,
		&p.GivenName,
		&p.FamilyName,
		&p.Email,
		&p.EmailVerified,
		&p.Picture,
		&p.Locale,
		&p.AccessToken,
		&p.RefreshToken,
		&tokenExpires,
		&p.IsSignedIn,
		&p.IsSignedOut,
		&lastSignIn,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tokenExpires.Valid {
		p.TokenExpiresAt = tokenExpires.Time
	}
	if lastSignIn.Valid {
		t := lastSignIn.Time
		p.LastSignInAt = &t
	}
	return &p, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}
