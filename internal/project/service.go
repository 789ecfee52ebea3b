package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service wraps the repository with the bookkeeping the pipelines need:
// job history, the usage ledger and snapshot loading. Bookkeeping failures
// are logged and never returned to a running pipeline.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Repo() Repository {
	return s.repo
}

// JobStarted records a new running job row.
func (s *Service) JobStarted(ctx context.Context, projectID, jobID, kind string, total int) {
	now := time.Now().UTC()
	job := &Job{
		ID:        jobID,
		ProjectID: projectID,
		Kind:      kind,
		Status:    JobStatusRunning,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.warn("failed to record job", "job_id", jobID, "kind", kind, "error", err)
		return
	}
	if s.logger != nil {
		s.logger.Info("job started", "job_id", jobID, "project_id", projectID, "kind", kind)
	}
}

func (s *Service) JobProgress(ctx context.Context, jobID string, completed, total int) {
	if err := s.repo.UpdateJobProgress(ctx, jobID, completed, total); err != nil {
		s.warn("failed to record job progress", "job_id", jobID, "error", err)
	}
}

func (s *Service) JobFinished(ctx context.Context, jobID, status, errMsg string) {
	if err := s.repo.UpdateJobStatus(ctx, jobID, status, errMsg); err != nil {
		s.warn("failed to record job status", "job_id", jobID, "status", status, "error", err)
		return
	}
	if s.logger != nil {
		s.logger.Info("job finished", "job_id", jobID, "status", status)
	}
}

// Charge appends amount credits to the project's ledger. Zero amounts are
// not recorded.
func (s *Service) Charge(ctx context.Context, projectID, jobID string, amount int, memo string) error {
	if amount < 0 {
		return fmt.Errorf("charge amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	c := &Charge{ProjectID: projectID, JobID: jobID, Amount: amount, Memo: memo}
	if err := s.repo.Charge(ctx, c); err != nil {
		return fmt.Errorf("failed to record charge: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("usage charged", "project_id", projectID, "job_id", jobID, "amount", amount)
	}
	return nil
}

func (s *Service) TotalCharged(ctx context.Context, projectID string) (int, error) {
	return s.repo.TotalCharged(ctx, projectID)
}

func (s *Service) Load(ctx context.Context, projectID string) (*Snapshot, error) {
	return s.repo.GetSnapshot(ctx, projectID)
}

func (s *Service) ListJobs(ctx context.Context, projectID string, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, projectID, limit)
}

// ActiveJobCount returns how many job rows are still running.
func (s *Service) ActiveJobCount(ctx context.Context) int {
	jobs, err := s.repo.ListJobs(ctx, "", 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning {
			count++
		}
	}
	return count
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
