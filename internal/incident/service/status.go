package service

import (
	"context"
	"errors"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	"sentinel-sos/pkg/platform/sentinel"
)

// StatusResolver derives each subject's safety status from the set of active
// incidents. It only reads; status is never stored.
type StatusResolver struct {
	incidents Store
	subjects  SubjectDirectory
}

func NewStatusResolver(incidents Store, subjects SubjectDirectory) *StatusResolver {
	return &StatusResolver{incidents: incidents, subjects: subjects}
}

// StatusOf is InDanger iff the subject has at least one active incident.
func (r *StatusResolver) StatusOf(ctx context.Context, subjectID domain.SubjectID) (models.SafetyStatus, error) {
	active, err := r.incidents.HasActive(ctx, subjectID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read active incidents")
	}
	if active {
		return models.SafetyInDanger, nil
	}
	return models.SafetySafe, nil
}

// ListStatuses returns one row per registered subject.
func (r *StatusResolver) ListStatuses(ctx context.Context) ([]models.SubjectStatus, error) {
	subjects, err := r.subjects.List(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "subject registry unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subjects")
	}
	inDanger, err := r.incidents.ActiveSubjects(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read active incidents")
	}

	out := make([]models.SubjectStatus, 0, len(subjects))
	for _, subject := range subjects {
		status := models.SafetySafe
		if _, ok := inDanger[subject.ID]; ok {
			status = models.SafetyInDanger
		}
		out = append(out, models.SubjectStatus{
			SubjectID:    subject.ID,
			Address:      subject.Address,
			LastLocation: subject.LastLocation,
			CreatedAt:    subject.CreatedAt,
			Status:       status,
		})
	}
	return out, nil
}
