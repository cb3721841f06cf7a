// Package model defines the data structures used throughout the application.
package model

import "time"

// Profile is one LinkedIn member as seen by this application.
//
// ProviderSubjectID is LinkedIn's OpenID "sub" claim. It is the storage key:
// every sign-in of the same member updates the same record.
//
// The token fields carry `json:"-"` so that encoding a Profile can never leak
// them; the HTTP layer additionally renders a separate view type.
type Profile struct {
	ProviderSubjectID string `json:"providerSubjectId" bson:"providerSubjectId"`

	Name          string `json:"name,omitempty"       bson:"name,omitempty"`
	GivenName     string `json:"givenName"            bson:"givenName"`
	FamilyName    string `json:"familyName"           bson:"familyName"`
	Email         string `json:"email"                bson:"email"`
	EmailVerified bool   `json:"emailVerified"        bson:"emailVerified"`
	Picture       string `json:"picture,omitempty"    bson:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"     bson:"locale,omitempty"`

	// Positions is only filled by a live fetch and is never persisted.
	Positions []Position `json:"positions,omitempty" bson:"-"`

	AccessToken    string    `json:"-" bson:"accessToken"`
	RefreshToken   string    `json:"-" bson:"refreshToken,omitempty"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt" bson:"tokenExpiresAt"`

	IsSignedIn   bool       `json:"isSignedIn"             bson:"isSignedIn"`
	IsSignedOut  bool       `json:"isSignedOut"            bson:"isSignedOut"`
	LastSignInAt *time.Time `json:"lastSignInAt,omitempty" bson:"lastSignInAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"              bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"              bson:"updatedAt"`
}

// Position is one entry of the member's professional experience.
type Position struct {
	Title       string     `json:"title"`
	CompanyName string     `json:"companyName,omitempty"`
	StartDate   *YearMonth `json:"startDate,omitempty"`
	EndDate     *YearMonth `json:"endDate,omitempty"` // nil means current position
	Summary     string     `json:"summary,omitempty"`
}

// YearMonth is LinkedIn's partial date. Month is 1-based and may be zero.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
}

// MergeLive overlays the fields of a live provider fetch onto a stored
// profile. Empty live values never erase stored ones; token and bookkeeping
// fields always come from the stored record.
func (p Profile) MergeLive(live *Profile) Profile {
	if live == nil {
		return p
	}
	merged := p
	if live.Name != "" {
		merged.Name = live.Name
	}
	if live.GivenName != "" {
		merged.GivenName = live.GivenName
	}
	if live.FamilyName != "" {
		merged.FamilyName = live.FamilyName
	}
	if live.Email != "" {
		merged.Email = live.Email
		merged.EmailVerified = live.EmailVerified
	}
	if live.Picture != "" {
		merged.Picture = live.Picture
	}
	if live.Locale != "" {
		merged.Locale = live.Locale
	}
	if len(live.Positions) > 0 {
		merged.Positions = live.Positions
	}
	return merged
}
