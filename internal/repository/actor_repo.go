package repository

import (
	"context"

	"github.com/saeid-a/ChambaBack/internal/models"
)

type ActorRepository struct {
	db DBTX
}

func NewActorRepository(db DBTX) *ActorRepository {
	return &ActorRepository{db: db}
}

func (r *ActorRepository) GetByID(ctx context.Context, id int64) (*models.Actor, error) {
	query := `
		SELECT id, role, created_at
		FROM actors
		WHERE id = $1
	`
	var actor models.Actor
	err := r.db.QueryRow(ctx, query, id).Scan(&actor.ID, &actor.Role, &actor.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

type JobPostRepository struct {
	db DBTX
}

func NewJobPostRepository(db DBTX) *JobPostRepository {
	return &JobPostRepository{db: db}
}

func (r *JobPostRepository) GetByID(ctx context.Context, id int64) (*models.JobPost, error) {
	query := `
		SELECT id, company_id, title, created_at
		FROM job_posts
		WHERE id = $1
	`
	var post models.JobPost
	err := r.db.QueryRow(ctx, query, id).Scan(&post.ID, &post.CompanyID, &post.Title, &post.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}
