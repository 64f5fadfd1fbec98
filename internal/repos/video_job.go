package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

type VideoJobFilter struct {
	Status    string
	AthleteID uuid.UUID
	Limit     int
	Offset    int
}

// VideoJobRepo is the only component that mutates persisted job status.
type VideoJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.VideoJob) ([]*types.VideoJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.VideoJob, error)
	Query(ctx context.Context, tx *gorm.DB, filter VideoJobFilter) ([]*types.VideoJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	// UpdateFieldsUnlessStatus applies updates only when the job is not in one
	// of the disallowed statuses; reports whether a row was changed. Used to
	// keep terminal transitions from racing each other.
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
}

type videoJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoJobRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobRepo {
	return &videoJobRepo{db: db, log: baseLog.With("repo", "VideoJobRepo")}
}

func (r *videoJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.VideoJob) ([]*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.VideoJob{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *videoJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) Query(ctx context.Context, tx *gorm.DB, filter VideoJobFilter) ([]*types.VideoJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.VideoJob{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AthleteID != uuid.Nil {
		q = q.Where("athlete_id = ?", filter.AthleteID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.VideoJob
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.VideoJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(ctx).
		Model(&types.VideoJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
