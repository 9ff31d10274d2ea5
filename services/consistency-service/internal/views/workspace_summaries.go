package views

import (
	"encoding/json"
	"fmt"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

const WorkspaceSummariesName = "workspace_summaries"

// WorkspaceSummary aggregates a workspace with its projects and the bases
// nested under each project, keyed by workspace aggregate id.
type WorkspaceSummary struct {
	WorkspaceID  string           `json:"workspaceId"`
	Name         string           `json:"name"`
	Archived     bool             `json:"archived"`
	Projects     []ProjectSummary `json:"projects"`
	ProjectCount int              `json:"projectCount"`
	BaseCount    int              `json:"baseCount"`
}

type ProjectSummary struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Bases []BaseSummary `json:"bases"`
}

type BaseSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type workspaceCreatedPayload struct {
	Name string `json:"name"`
}

type projectCreatedPayload struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

type baseCreatedPayload struct {
	ProjectID string `json:"projectId"`
	BaseID    string `json:"baseId"`
	Name      string `json:"name"`
}

// WorkspaceSummaries projects workspace structure events into
// WorkspaceSummary rows.
type WorkspaceSummaries struct{}

func NewWorkspaceSummaries() WorkspaceSummaries { return WorkspaceSummaries{} }

func (WorkspaceSummaries) Name() string { return WorkspaceSummariesName }

func (WorkspaceSummaries) EventTypes() []string {
	return []string{"WorkspaceCreated", "ProjectCreated", "BaseCreated", "WorkspaceArchived"}
}

func (WorkspaceSummaries) Init() []byte {
	return []byte(`{"projects":[]}`)
}

func (WorkspaceSummaries) Apply(state []byte, evt event.DomainEvent) ([]byte, error) {
	var summary WorkspaceSummary
	if err := json.Unmarshal(state, &summary); err != nil {
		return nil, fmt.Errorf("decode workspace summary: %w", err)
	}
	if summary.Projects == nil {
		summary.Projects = []ProjectSummary{}
	}

	switch evt.EventType {
	case "WorkspaceCreated":
		var p workspaceCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode WorkspaceCreated: %w", err)
		}
		summary.WorkspaceID = evt.AggregateID
		summary.Name = p.Name
	case "ProjectCreated":
		var p projectCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode ProjectCreated: %w", err)
		}
		summary.Projects = append(summary.Projects, ProjectSummary{
			ID:    p.ProjectID,
			Name:  p.Name,
			Bases: []BaseSummary{},
		})
	case "BaseCreated":
		var p baseCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode BaseCreated: %w", err)
		}
		for i := range summary.Projects {
			if summary.Projects[i].ID == p.ProjectID {
				summary.Projects[i].Bases = append(summary.Projects[i].Bases, BaseSummary{
					ID:   p.BaseID,
					Name: p.Name,
				})
				break
			}
		}
	case "WorkspaceArchived":
		summary.Archived = true
	}

	summary.ProjectCount = len(summary.Projects)
	summary.BaseCount = 0
	for _, proj := range summary.Projects {
		summary.BaseCount += len(proj.Bases)
	}

	return json.Marshal(summary)
}
