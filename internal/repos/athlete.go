package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelworks/sportsreel-backend/internal/logger"
	"github.com/reelworks/sportsreel-backend/internal/types"
)

type AthleteRepo interface {
	Create(ctx context.Context, tx *gorm.DB, athletes []*types.Athlete) ([]*types.Athlete, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Athlete, error)
	List(ctx context.Context, tx *gorm.DB, sport string, limit int, offset int) ([]*types.Athlete, error)
	Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type athleteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAthleteRepo(db *gorm.DB, baseLog *logger.Logger) AthleteRepo {
	return &athleteRepo{db: db, log: baseLog.With("repo", "AthleteRepo")}
}

func (r *athleteRepo) Create(ctx context.Context, tx *gorm.DB, athletes []*types.Athlete) ([]*types.Athlete, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(athletes) == 0 {
		return []*types.Athlete{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&athletes).Error; err != nil {
		return nil, err
	}
	return athletes, nil
}

func (r *athleteRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Athlete, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Athlete
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *athleteRepo) List(ctx context.Context, tx *gorm.DB, sport string, limit int, offset int) ([]*types.Athlete, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := transaction.WithContext(ctx).Model(&types.Athlete{})
	if sport != "" {
		q = q.Where("sport = ?", sport)
	}
	var out []*types.Athlete
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *athleteRepo) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Athlete{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *athleteRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).Delete(&types.Athlete{}, "id = ?", id).Error
}
