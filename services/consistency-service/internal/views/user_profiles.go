// Package views holds the concrete read models served by the query surface.
package views

import (
	"encoding/json"
	"fmt"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

const UserProfilesName = "user_profiles"

// UserProfile is the read model for one user, keyed by user aggregate id.
type UserProfile struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type userRegisteredPayload struct {
	Email string `json:"email"`
}

type userProfileInitializedPayload struct {
	Name string `json:"name"`
}

// UserProfiles projects user lifecycle events into UserProfile rows.
type UserProfiles struct{}

func NewUserProfiles() UserProfiles { return UserProfiles{} }

func (UserProfiles) Name() string { return UserProfilesName }

func (UserProfiles) EventTypes() []string {
	return []string{"UserRegistered", "UserProfileInitialized", "UserDeactivated"}
}

func (UserProfiles) Init() []byte { return []byte(`{}`) }

func (UserProfiles) Apply(state []byte, evt event.DomainEvent) ([]byte, error) {
	var profile UserProfile
	if err := json.Unmarshal(state, &profile); err != nil {
		return nil, fmt.Errorf("decode user profile: %w", err)
	}

	switch evt.EventType {
	case "UserRegistered":
		var p userRegisteredPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode UserRegistered: %w", err)
		}
		profile.UserID = evt.AggregateID
		profile.Email = p.Email
	case "UserProfileInitialized":
		var p userProfileInitializedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode UserProfileInitialized: %w", err)
		}
		profile.Name = p.Name
		profile.Active = true
	case "UserDeactivated":
		profile.Active = false
	}

	return json.Marshal(profile)
}
