package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
	"github.com/sakif/linkedin-profile-viewer/internal/repository"
)

var _ repository.ProfileRepository = (*Store)(nil)

// Upsert writes the profile with a single FindOneAndUpdate{upsert: true}.
// The filter seeds providerSubjectId on insert; createdAt is only set on
// insert.
func (s *Store) Upsert(ctx context.Context, profile *model.Profile) error {
	if profile.ProviderSubjectID == "" {
		return apperror.ValidationFailed("providerSubjectId", "provider subject id is required")
	}

	now := s.now().UTC()
	set := bson.M{
		"name":           profile.Name,
		"givenName":      profile.GivenName,
		"familyName":     profile.FamilyName,
		"email":          profile.Email,
		"emailVerified":  profile.EmailVerified,
		"picture":        profile.Picture,
		"locale":         profile.Locale,
		"accessToken":    profile.AccessToken,
		"refreshToken":   profile.RefreshToken,
		"tokenExpiresAt": profile.TokenExpiresAt.UTC(),
		"isSignedIn":     profile.IsSignedIn,
		"isSignedOut":    profile.IsSignedOut,
		"updatedAt":      now,
	}
	if profile.LastSignInAt != nil {
		set["lastSignInAt"] = profile.LastSignInAt.UTC()
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored model.Profile
	err := s.collection.FindOneAndUpdate(ctx, subjectFilter(profile.ProviderSubjectID), update, opts).
		Decode(&stored)
	if err != nil {
		return apperror.StorageUnavailable("upsert profile", err)
	}

	stored.Positions = profile.Positions
	*profile = stored
	return nil
}

// GetBySubject returns the profile stored for subjectID.
func (s *Store) GetBySubject(ctx context.Context, subjectID string) (*model.Profile, error) {
	var p model.Profile
	err := s.collection.FindOne(ctx, subjectFilter(subjectID)).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("profile", subjectID)
		}
		return nil, apperror.StorageUnavailable("get profile", err)
	}
	return &p, nil
}

// Latest returns the most recently created profile.
func (s *Store) Latest(ctx context.Context) (*model.Profile, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: -1},
	})

	var p model.Profile
	err := s.collection.FindOne(ctx, bson.D{}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "no profile stored"}
		}
		return nil, apperror.StorageUnavailable("get latest profile", err)
	}
	return &p, nil
}

// MarkSignedIn flags the profile as signed in and stamps lastSignInAt.
func (s *Store) MarkSignedIn(ctx context.Context, subjectID string) error {
	now := s.now().UTC()
	return s.setFlags(ctx, "mark signed in", subjectID, bson.M{
		"isSignedIn":   true,
		"isSignedOut":  false,
		"lastSignInAt": now,
		"updatedAt":    now,
	})
}

// MarkSignedOut flags the profile as signed out.
func (s *Store) MarkSignedOut(ctx context.Context, subjectID string) error {
	return s.setFlags(ctx, "mark signed out", subjectID, bson.M{
		"isSignedIn":  false,
		"isSignedOut": true,
		"updatedAt":   s.now().UTC(),
	})
}

func (s *Store) setFlags(ctx context.Context, op, subjectID string, set bson.M) error {
	res, err := s.collection.UpdateOne(ctx, subjectFilter(subjectID), bson.M{"$set": set})
	if err != nil {
		return apperror.StorageUnavailable(op, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("profile", subjectID)
	}
	return nil
}

func subjectFilter(subjectID string) bson.D {
	return bson.D{{Key: "providerSubjectId", Value: subjectID}}
}
