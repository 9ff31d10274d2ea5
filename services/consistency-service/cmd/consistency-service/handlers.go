package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/command"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/eventstore"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/outbox"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/saga"
)

// eventHandler builds a command handler that records the resulting domain
// event through the outbox. The business mutation itself lives in the owning
// service; this platform keeps the event trail consistent.
func eventHandler(runner outbox.Runner, events eventstore.Store, aggregateType, eventType string) command.Handler {
	return func(ctx context.Context, cmd command.Command) error {
		// Version allocation, the event store append and the outbox row
		// share one transaction; a racing command on the same aggregate
		// surfaces ErrVersionConflict to the issuer.
		return runner.ExecuteWithEvents(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.DomainEvent, error) {
			version, err := events.NextVersionIn(ctx, tx, cmd.AggregateID)
			if err != nil {
				return nil, fmt.Errorf("next version for %s: %w", cmd.AggregateID, err)
			}
			payload := cmd.Payload
			if len(payload) == 0 {
				payload = json.RawMessage(`{}`)
			}
			evt, err := event.New(aggregateType, cmd.AggregateID, eventType, version, payload)
			if err != nil {
				return nil, err
			}
			evt.TenantID = cmd.TenantID
			evt.CorrelationID = cmd.CorrelationID
			evt.CausationID = cmd.ID.String()

			if err := events.AppendIn(ctx, tx, []event.DomainEvent{evt}); err != nil {
				return nil, err
			}
			return []event.DomainEvent{evt}, nil
		})
	}
}

func registerPlatformHandlers(registry *command.Registry, runner outbox.Runner, events eventstore.Store) {
	register := func(commandType, aggregateType, eventType string) {
		registry.MustRegister(commandType, eventHandler(runner, events, aggregateType, eventType))
	}

	register("RegisterUser", "user", "UserRegistered")
	register("InitializeUserProfile", "user", "UserProfileInitialized")
	register("DeactivateUser", "user", "UserDeactivated")

	register("CreateWorkspace", "workspace", "WorkspaceCreated")
	register("CreateProject", "workspace", "ProjectCreated")
	register("CreateBase", "workspace", "BaseCreated")
	register("ArchiveWorkspace", "workspace", "WorkspaceArchived")
	register("DeleteProject", "workspace", "ProjectDeleted")
	register("DeleteBase", "workspace", "BaseDeleted")
}

type provisioningRequest struct {
	WorkspaceName string `json:"workspaceName"`
	ProjectID     string `json:"projectId"`
	ProjectName   string `json:"projectName"`
	BaseID        string `json:"baseId"`
	BaseName      string `json:"baseName"`
}

func decodeProvisioning(trigger event.DomainEvent) (provisioningRequest, error) {
	var req provisioningRequest
	if err := json.Unmarshal(trigger.Payload, &req); err != nil {
		return req, fmt.Errorf("decode provisioning request: %w", err)
	}
	return req, nil
}

func provisioningCommand(trigger event.DomainEvent, commandType string, payload any) (command.Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return command.Command{}, err
	}
	return command.New(commandType, trigger.AggregateID, raw)
}

// workspaceProvisioningSaga sets up workspace, project and base in order.
// Compensation tears down in reverse: the base and project are deleted, the
// workspace is archived.
func workspaceProvisioningSaga() saga.Definition {
	return saga.Definition{
		Type:             "workspace_provisioning",
		TriggerEventType: "WorkspaceProvisioningRequested",
		Steps: []saga.Step{
			{
				Name: "create_workspace",
				Forward: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					req, err := decodeProvisioning(trigger)
					if err != nil {
						return command.Command{}, err
					}
					return provisioningCommand(trigger, "CreateWorkspace",
						map[string]string{"name": req.WorkspaceName})
				},
				Compensation: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					return provisioningCommand(trigger, "ArchiveWorkspace", map[string]string{})
				},
			},
			{
				Name: "create_project",
				Forward: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					req, err := decodeProvisioning(trigger)
					if err != nil {
						return command.Command{}, err
					}
					return provisioningCommand(trigger, "CreateProject",
						map[string]string{"projectId": req.ProjectID, "name": req.ProjectName})
				},
				Compensation: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					req, err := decodeProvisioning(trigger)
					if err != nil {
						return command.Command{}, err
					}
					return provisioningCommand(trigger, "DeleteProject",
						map[string]string{"projectId": req.ProjectID})
				},
			},
			{
				Name: "create_base",
				Forward: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					req, err := decodeProvisioning(trigger)
					if err != nil {
						return command.Command{}, err
					}
					return provisioningCommand(trigger, "CreateBase",
						map[string]string{"projectId": req.ProjectID, "baseId": req.BaseID, "name": req.BaseName})
				},
				Compensation: func(_ *saga.Instance, trigger event.DomainEvent) (command.Command, error) {
					req, err := decodeProvisioning(trigger)
					if err != nil {
						return command.Command{}, err
					}
					return provisioningCommand(trigger, "DeleteBase",
						map[string]string{"projectId": req.ProjectID, "baseId": req.BaseID})
				},
			},
		},
	}
}
