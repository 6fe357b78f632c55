package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

const DefaultTaskQueue = "policyscope-research"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) options(runID string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:        workflowID(runID),
		TaskQueue: s.taskQueue,
	}
}

func (s *Service) StartResearch(ctx context.Context, input ResearchInput) error {
	_, err := s.client.ExecuteWorkflow(ctx, s.options(input.RunID), ResearchWorkflow, input)
	return err
}

func (s *Service) StartArtifact(ctx context.Context, input ArtifactInput) error {
	_, err := s.client.ExecuteWorkflow(ctx, s.options(input.RunID), ArtifactWorkflow, input)
	return err
}

func (s *Service) StartNews(ctx context.Context, input NewsInput) error {
	_, err := s.client.ExecuteWorkflow(ctx, s.options(input.RunID), NewsWorkflow, input)
	return err
}

func (s *Service) CancelRun(ctx context.Context, runID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(runID), "")
}

func workflowID(runID string) string {
	return fmt.Sprintf("research:%s", runID)
}
