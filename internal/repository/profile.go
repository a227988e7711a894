package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

const profileCols = `id, full_name, avatar_url, last_seen_at, created_at`

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func scanProfile(s interface{ Scan(dest ...any) error }, p *model.Profile) error {
	return s.Scan(&p.ID, &p.FullName, &p.AvatarURL, &p.LastSeenAt, &p.CreatedAt)
}

// Ensure создаёт профиль при первом обращении и обновляет имя/аватар, если они пришли непустыми.
func (r *ProfileRepository) Ensure(ctx context.Context, id, fullName, avatarURL string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.Ensure", time.Now())()
	p := &model.Profile{}
	row := r.db.QueryRow(ctx,
		`INSERT INTO profiles (id, full_name, avatar_url) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		     full_name  = COALESCE(NULLIF(EXCLUDED.full_name, ''), profiles.full_name),
		     avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), profiles.avatar_url)
		 RETURNING `+profileCols,
		id, fullName, avatarURL,
	)
	if err := scanProfile(row, p); err != nil {
		return nil, fmt.Errorf("profileRepo.Ensure: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetByID", time.Now())()
	p := &model.Profile{}
	row := r.db.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id)
	if err := scanProfile(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profileRepo.GetByID: %w", err)
	}
	return p, nil
}

// GetMany возвращает найденные профили по id; отсутствующие просто не попадают в map.
func (r *ProfileRepository) GetMany(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetMany", time.Now())()
	out := make(map[string]model.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetMany query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Profile
		if err := scanProfile(rows, &p); err != nil {
			return nil, fmt.Errorf("profileRepo.GetMany scan: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.GetMany rows: %w", err)
	}
	return out, nil
}

// TouchLastSeen записывает время последнего визита.
func (r *ProfileRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("profile.TouchLastSeen", time.Now())()
	tag, err := r.db.Exec(ctx, `UPDATE profiles SET last_seen_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("profileRepo.TouchLastSeen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
