package publisher

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"

	"adsync/jobs"
	"adsync/models"
)

var validate = validator.New()

var placeholderTokens = map[string]bool{
	"placeholder": true,
	"changeme":    true,
	"dummy":       true,
	"test":        true,
	"token":       true,
	"xxx":         true,
	"todo":        true,
}

func checkSettings(settings *models.AdSettings) jobs.Check {
	return func(context.Context) jobs.Verdict {
		if settings == nil {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"Ad settings have not been configured. Complete the ad settings step and publish again.")
		}
		return jobs.Pass()
	}
}

// checkGeo validates the geo config for its mode: radius needs a center
// and a positive radius, regions needs at least one region.
func checkGeo(settings *models.AdSettings) jobs.Check {
	return func(context.Context) jobs.Verdict {
		geo := settings.Geo
		if err := validate.Struct(&geo); err != nil {
			return jobs.Reject(jobs.KindValidation,
				"The geo targeting mode %q is not valid. Choose radius or regions under ad settings.", geo.Mode)
		}
		switch geo.Mode {
		case models.GeoModeRadius:
			if geo.CenterLat == nil || geo.CenterLng == nil || geo.RadiusKm <= 0 {
				return jobs.Reject(jobs.KindValidation,
					"Radius targeting needs a center point and a radius. Set both under ad settings.")
			}
			if *geo.CenterLat < -90 || *geo.CenterLat > 90 || *geo.CenterLng < -180 || *geo.CenterLng > 180 {
				return jobs.Reject(jobs.KindValidation,
					"The radius targeting center is not a valid coordinate. Pick the center again under ad settings.")
			}
		case models.GeoModeRegions:
			regions := 0
			for _, r := range geo.Regions {
				if strings.TrimSpace(r) != "" {
					regions++
				}
			}
			if regions == 0 {
				return jobs.Reject(jobs.KindValidation,
					"Region targeting needs at least one region. Add a region under ad settings.")
			}
		}
		return jobs.Pass()
	}
}

func checkFormats(settings *models.AdSettings) jobs.Check {
	return func(context.Context) jobs.Verdict {
		for _, f := range settings.Formats {
			if strings.TrimSpace(f) != "" {
				return jobs.Pass()
			}
		}
		return jobs.Reject(jobs.KindValidation,
			"No ad format is enabled. Enable at least one format under ad settings.")
	}
}

func checkConnection(conn *models.PlatformConnection) jobs.Check {
	return func(context.Context) jobs.Verdict {
		if conn == nil || conn.Status != "active" {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"No active ad platform connection. Connect your ad account under platform connection settings.")
		}
		if strings.TrimSpace(conn.AdAccountID) == "" {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"No ad account is selected. Select an ad account under platform connection settings.")
		}
		if isPlaceholderToken(conn.AccessToken) {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"The ad platform connection has no valid access token. Reconnect your ad account under platform connection settings.")
		}
		return jobs.Pass()
	}
}

func isPlaceholderToken(token string) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" || placeholderTokens[t] {
		return true
	}
	return strings.Contains(t, "placeholder") || strings.Trim(t, string(t[0])) == ""
}

func checkApproval(approved bool) jobs.Check {
	return func(context.Context) jobs.Verdict {
		if !approved {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"The ad template has not been approved. Approve the template first, then publish again.")
		}
		return jobs.Pass()
	}
}

func checkPreview(previewed bool) jobs.Check {
	return func(context.Context) jobs.Verdict {
		if !previewed {
			return jobs.Reject(jobs.KindMissingPrerequisite,
				"No ad preview has been generated. Generate a preview before publishing.")
		}
		return jobs.Pass()
	}
}
