package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"stalker/internal/event"
)

// Requester is the slice of *discordgo.Session the profile fetcher needs.
type Requester interface {
	Request(method, urlStr string, data interface{}, options ...discordgo.RequestOption) ([]byte, error)
}

// ProfileFetcher reads full user profiles over REST. The /profile endpoint is tried
// first; the plain user object is the fallback when it is not available.
type ProfileFetcher struct {
	rest Requester
	base string
}

// NewProfileFetcher uses base as the API root; empty means discordgo.EndpointAPI.
func NewProfileFetcher(rest Requester, base string) *ProfileFetcher {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = strings.TrimRight(discordgo.EndpointAPI, "/")
	}
	return &ProfileFetcher{rest: rest, base: base}
}

type apiClan struct {
	Tag string `json:"tag"`
}

type apiUser struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	GlobalName    string   `json:"global_name"`
	Avatar        string   `json:"avatar"`
	Discriminator string   `json:"discriminator"`
	Clan          *apiClan `json:"clan"`
	PublicFlags   *int     `json:"public_flags"`
	Banner        string   `json:"banner"`
	BannerColor   string   `json:"banner_color"`
	AccentColor   *int     `json:"accent_color"`
	Bio           string   `json:"bio"`
}

type apiProfile struct {
	User        *apiUser `json:"user"`
	UserProfile struct {
		Bio         string `json:"bio"`
		Banner      string `json:"banner"`
		AccentColor *int   `json:"accent_color"`
	} `json:"user_profile"`
}

func (f *ProfileFetcher) FetchProfile(ctx context.Context, id string) (event.ProfileUpdated, error) {
	if strings.TrimSpace(id) == "" {
		return event.ProfileUpdated{}, fmt.Errorf("%w: user.id", event.ErrMissingField)
	}

	body, err := f.rest.Request(http.MethodGet, f.base+"/users/"+id+"/profile", nil, discordgo.WithContext(ctx))
	if err == nil {
		var p apiProfile
		if err := json.Unmarshal(body, &p); err != nil {
			return event.ProfileUpdated{}, fmt.Errorf("decode profile %s: %w", id, err)
		}
		if p.User != nil {
			u := *p.User
			if u.Bio == "" {
				u.Bio = p.UserProfile.Bio
			}
			if u.Banner == "" {
				u.Banner = p.UserProfile.Banner
			}
			if u.AccentColor == nil {
				u.AccentColor = p.UserProfile.AccentColor
			}
			return toProfile(id, u), nil
		}
	}

	var restErr *discordgo.RESTError
	if err != nil && !errors.As(err, &restErr) {
		return event.ProfileUpdated{}, fmt.Errorf("fetch profile %s: %w", id, err)
	}

	body, err = f.rest.Request(http.MethodGet, f.base+"/users/"+id, nil, discordgo.WithContext(ctx))
	if err != nil {
		return event.ProfileUpdated{}, fmt.Errorf("fetch user %s: %w", id, err)
	}
	var u apiUser
	if err := json.Unmarshal(body, &u); err != nil {
		return event.ProfileUpdated{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return toProfile(id, u), nil
}

func toProfile(id string, u apiUser) event.ProfileUpdated {
	values := map[string]string{
		"username":      u.Username,
		"global_name":   u.GlobalName,
		"avatar":        u.Avatar,
		"discriminator": u.Discriminator,
		"banner":        u.Banner,
		"banner_color":  u.BannerColor,
		"bio":           u.Bio,
		"clan":          "",
		"flags":         "",
		"accent_color":  "",
	}
	if u.Clan != nil {
		values["clan"] = u.Clan.Tag
	}
	if u.PublicFlags != nil {
		values["flags"] = strconv.Itoa(*u.PublicFlags)
	}
	if u.AccentColor != nil {
		values["accent_color"] = strconv.Itoa(*u.AccentColor)
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return event.ProfileUpdated{SubjectID: id, DisplayName: name, Values: values}
}
