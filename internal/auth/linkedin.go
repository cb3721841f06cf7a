package auth

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sakif/linkedin-profile-viewer/internal/model"
)

// userInfo is LinkedIn's OpenID Connect /userinfo response.
type userInfo struct {
	Sub           string          `json:"sub"`
	Name          string          `json:"name"`
	GivenName     string          `json:"given_name"`
	FamilyName    string          `json:"family_name"`
	Email         string          `json:"email"`
	EmailVerified flexBool        `json:"email_verified"`
	Picture       string          `json:"picture"`
	Locale        json.RawMessage `json:"locale"`
}

// flexBool accepts true/false as well as "true"/"false"; LinkedIn has
// sent both forms for email_verified.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

// normalizeLocale turns either "en_US" or {"country":"US","language":"en"}
// into "en_US".
func normalizeLocale(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Country  string `json:"country"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch {
	case obj.Language != "" && obj.Country != "":
		return obj.Language + "_" + obj.Country
	default:
		return obj.Language
	}
}

type emailResponse struct {
	Elements []struct {
		Handle struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"handle~"`
	} `json:"elements"`
}

func (r emailResponse) primary() string {
	if len(r.Elements) == 0 {
		return ""
	}
	return r.Elements[0].Handle.EmailAddress
}

type pictureResponse struct {
	ProfilePicture struct {
		DisplayImage struct {
			Elements []struct {
				Identifiers []struct {
					Identifier string `json:"identifier"`
				} `json:"identifiers"`
			} `json:"elements"`
		} `json:"displayImage~"`
	} `json:"profilePicture"`
}

func (r pictureResponse) url() string {
	elems := r.ProfilePicture.DisplayImage.Elements
	if len(elems) == 0 || len(elems[0].Identifiers) == 0 {
		return ""
	}
	return elems[0].Identifiers[0].Identifier
}

type positionsResponse struct {
	Positions struct {
		Elements []struct {
			Title       localizedString `json:"title"`
			CompanyName localizedString `json:"companyName"`
			StartDate   *model.YearMonth `json:"startDate"`
			EndDate     *model.YearMonth `json:"endDate"`
			Summary     localizedString `json:"summary"`
		} `json:"elements"`
	} `json:"positions"`
}

func (r positionsResponse) toModel() []model.Position {
	elems := r.Positions.Elements
	if len(elems) == 0 {
		return nil
	}
	out := make([]model.Position, 0, len(elems))
	for _, e := range elems {
		out = append(out, model.Position{
			Title:       string(e.Title),
			CompanyName: string(e.CompanyName),
			StartDate:   e.StartDate,
			EndDate:     e.EndDate,
			Summary:     string(e.Summary),
		})
	}
	return out
}

// localizedString reads a plain string or a Rest.li MultiLocaleString
// ({"localized":{"en_US":"..."},"preferredLocale":{...}}).
type localizedString string

func (l *localizedString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = localizedString(s)
		return nil
	}

	var multi struct {
		Localized       map[string]string `json:"localized"`
		PreferredLocale struct {
			Country  string `json:"country"`
			Language string `json:"language"`
		} `json:"preferredLocale"`
	}
	if err := json.Unmarshal(data, &multi); err != nil {
		*l = ""
		return nil
	}

	preferred := multi.PreferredLocale.Language + "_" + multi.PreferredLocale.Country
	if v, ok := multi.Localized[preferred]; ok {
		*l = localizedString(v)
		return nil
	}

	keys := make([]string, 0, len(multi.Localized))
	for k := range multi.Localized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		*l = localizedString(multi.Localized[keys[0]])
	}
	return nil
}
