package views

import (
	"encoding/json"
	"testing"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

func fold(t *testing.T, p interface {
	Init() []byte
	Apply([]byte, event.DomainEvent) ([]byte, error)
}, evts ...event.DomainEvent) []byte {
	t.Helper()
	state := p.Init()
	for _, evt := range evts {
		next, err := p.Apply(state, evt)
		if err != nil {
			t.Fatalf("apply %s: %v", evt.EventType, err)
		}
		state = next
	}
	return state
}

func viewEvent(t *testing.T, aggregateType, aggregateID, eventType string, version int64, payload string) event.DomainEvent {
	t.Helper()
	evt, err := event.New(aggregateType, aggregateID, eventType, version, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return evt
}

func TestUserProfiles_Lifecycle(t *testing.T) {
	p := NewUserProfiles()

	registered := viewEvent(t, "user", "user-1", "UserRegistered", 1, `{"email":"amina@example.com"}`)
	initialized := viewEvent(t, "user", "user-1", "UserProfileInitialized", 2, `{"name":"Amina"}`)
	deactivated := viewEvent(t, "user", "user-1", "UserDeactivated", 3, `{}`)

	state := fold(t, p, registered, initialized)

	var profile UserProfile
	if err := json.Unmarshal(state, &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.UserID != "user-1" || profile.Email != "amina@example.com" || profile.Name != "Amina" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !profile.Active {
		t.Fatal("profile must be active after initialization")
	}

	state = fold(t, p, registered, initialized, deactivated)
	if err := json.Unmarshal(state, &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.Active {
		t.Fatal("profile must be inactive after deactivation")
	}
	if profile.Email != "amina@example.com" {
		t.Fatalf("deactivation must keep profile fields, got %+v", profile)
	}
}

func TestWorkspaceSummaries_NestedCounts(t *testing.T) {
	p := NewWorkspaceSummaries()

	state := fold(t, p,
		viewEvent(t, "workspace", "ws-1", "WorkspaceCreated", 1, `{"name":"Platform"}`),
		viewEvent(t, "workspace", "ws-1", "ProjectCreated", 2, `{"projectId":"proj-1","name":"Core"}`),
		viewEvent(t, "workspace", "ws-1", "ProjectCreated", 3, `{"projectId":"proj-2","name":"Edge"}`),
		viewEvent(t, "workspace", "ws-1", "BaseCreated", 4, `{"projectId":"proj-1","baseId":"base-1","name":"Accounts"}`),
		viewEvent(t, "workspace", "ws-1", "BaseCreated", 5, `{"projectId":"proj-1","baseId":"base-2","name":"Billing"}`),
		viewEvent(t, "workspace", "ws-1", "BaseCreated", 6, `{"projectId":"proj-2","baseId":"base-3","name":"Metrics"}`),
	)

	var summary WorkspaceSummary
	if err := json.Unmarshal(state, &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.WorkspaceID != "ws-1" || summary.Name != "Platform" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ProjectCount != 2 || summary.BaseCount != 3 {
		t.Fatalf("expected 2 projects and 3 bases, got %d and %d", summary.ProjectCount, summary.BaseCount)
	}
	if len(summary.Projects[0].Bases) != 2 || len(summary.Projects[1].Bases) != 1 {
		t.Fatalf("bases attached to wrong projects: %+v", summary.Projects)
	}
	if summary.Projects[0].Bases[1].Name != "Billing" {
		t.Fatalf("base order not preserved: %+v", summary.Projects[0].Bases)
	}
	if summary.Archived {
		t.Fatal("workspace must not be archived yet")
	}
}

func TestWorkspaceSummaries_Archive(t *testing.T) {
	p := NewWorkspaceSummaries()

	state := fold(t, p,
		viewEvent(t, "workspace", "ws-1", "WorkspaceCreated", 1, `{"name":"Platform"}`),
		viewEvent(t, "workspace", "ws-1", "WorkspaceArchived", 2, `{}`),
	)

	var summary WorkspaceSummary
	if err := json.Unmarshal(state, &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !summary.Archived {
		t.Fatal("expected archived workspace")
	}
}

func TestWorkspaceSummaries_BaseForUnknownProjectIgnored(t *testing.T) {
	p := NewWorkspaceSummaries()

	state := fold(t, p,
		viewEvent(t, "workspace", "ws-1", "WorkspaceCreated", 1, `{"name":"Platform"}`),
		viewEvent(t, "workspace", "ws-1", "BaseCreated", 2, `{"projectId":"missing","baseId":"base-1","name":"Orphan"}`),
	)

	var summary WorkspaceSummary
	if err := json.Unmarshal(state, &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.BaseCount != 0 {
		t.Fatalf("orphan base must not count, got %d", summary.BaseCount)
	}
}
