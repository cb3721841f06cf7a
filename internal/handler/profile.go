package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jinzhu/copier"

	"github.com/sakif/linkedin-profile-viewer/internal/auth"
	"github.com/sakif/linkedin-profile-viewer/internal/model"
	"github.com/sakif/linkedin-profile-viewer/internal/service"
)

// ProfileView is the browser's view of a model.Profile. It has no token
// fields at all, so no encoding mistake can leak them.
type ProfileView struct {
	ProviderSubjectID string           `json:"providerSubjectId"`
	Name              string           `json:"name,omitempty"`
	GivenName         string           `json:"givenName"`
	FamilyName        string           `json:"familyName"`
	Email             string           `json:"email"`
	EmailVerified     bool             `json:"emailVerified"`
	Picture           string           `json:"picture,omitempty"`
	Locale            string           `json:"locale,omitempty"`
	Positions         []model.Position `json:"positions,omitempty"`
	TokenExpiresAt    time.Time        `json:"tokenExpiresAt"`
	IsSignedIn        bool             `json:"isSignedIn"`
	IsSignedOut       bool             `json:"isSignedOut"`
	LastSignInAt      *time.Time       `json:"lastSignInAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

func newProfileView(p *model.Profile) (ProfileView, error) {
	var view ProfileView
	err := copier.Copy(&view, p)
	return view, err
}

// ProfileHandler serves the caller's profile.
type ProfileHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewProfileHandler(svc *service.AuthService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{auth: svc, logger: logger}
}

// HandleProfile returns the stored profile refreshed with a live fetch.
//
// HTTP: GET /profile
func (h *ProfileHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	noCache(w)

	subjectID := ""
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		subjectID = sess.SubjectID
	}

	profile, err := h.auth.CurrentProfile(r.Context(), subjectID)
	if err != nil {
		h.logger.Warn("profile read failed", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}

	view, err := newProfileView(profile)
	if err != nil {
		h.logger.Error("building profile view failed", slog.String("error", err.Error()))
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}
