package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

const connectionCols = `c.id::text, c.requester_id, c.addressee_id, c.note, c.status, c.created_at, c.responded_at,
	rq.id, rq.full_name, rq.avatar_url, rq.last_seen_at, rq.created_at,
	ad.id, ad.full_name, ad.avatar_url, ad.last_seen_at, ad.created_at`

const connectionFrom = ` FROM connection_requests c
	JOIN profiles rq ON rq.id = c.requester_id
	JOIN profiles ad ON ad.id = c.addressee_id`

type ConnectionRepository struct {
	db DBTX
}

func NewConnectionRepository(db DBTX) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func scanConnection(s interface{ Scan(dest ...any) error }, c *model.ConnectionRequest) error {
	rq, ad := &model.Profile{}, &model.Profile{}
	var status string
	if err := s.Scan(&c.ID, &c.RequesterID, &c.AddresseeID, &c.Note, &status, &c.CreatedAt, &c.RespondedAt,
		&rq.ID, &rq.FullName, &rq.AvatarURL, &rq.LastSeenAt, &rq.CreatedAt,
		&ad.ID, &ad.FullName, &ad.AvatarURL, &ad.LastSeenAt, &ad.CreatedAt); err != nil {
		return err
	}
	c.Status = model.ConnectionStatus(status)
	c.Requester, c.Addressee = rq, ad
	return nil
}

// Create создаёт запрос в статусе pending. Запрос по той же паре (в любом направлении) → ErrConflict,
// несуществующий адресат → ErrNotFound.
func (r *ConnectionRepository) Create(ctx context.Context, requesterID, addresseeID, note string) (*model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("conn.Create", time.Now())()
	id := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO connection_requests (id, requester_id, addressee_id, note) VALUES ($1, $2, $3, $4)`,
		id, requesterID, addresseeID, note,
	)
	switch {
	case isUniqueViolation(err):
		return nil, ErrConflict
	case isForeignKeyViolation(err):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("connRepo.Create: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("conn.GetByID", time.Now())()
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	c := &model.ConnectionRequest{}
	row := r.db.QueryRow(ctx, `SELECT `+connectionCols+connectionFrom+` WHERE c.id = $1`, id)
	if err := scanConnection(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connRepo.GetByID: %w", err)
	}
	return c, nil
}

// Respond переводит pending-запрос в status. Отвечать может только адресат:
// чужой запрос → ErrForbidden, уже обработанный → ErrConflict.
func (r *ConnectionRepository) Respond(ctx context.Context, id, addresseeID string, status model.ConnectionStatus) (*model.ConnectionRequest, error) {
	defer logger.DeferLogDuration("conn.Respond", time.Now())()
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.AddresseeID != addresseeID {
		return nil, ErrForbidden
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE connection_requests SET status = $1, responded_at = now()
		 WHERE id = $2 AND addressee_id = $3 AND status = 'pending'`,
		string(status), id, addresseeID,
	)
	if err != nil {
		return nil, fmt.Errorf("connRepo.Respond: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}
	return r.GetByID(ctx, id)
}

// ListForUser раскладывает запросы пользователя: входящие pending, исходящие pending и принятые.
func (r *ConnectionRepository) ListForUser(ctx context.Context, userID string) (*model.ConnectionList, error) {
	defer logger.DeferLogDuration("conn.ListForUser", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT `+connectionCols+connectionFrom+`
		 WHERE (c.requester_id = $1 OR c.addressee_id = $1) AND c.status <> 'declined'
		 ORDER BY c.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("connRepo.ListForUser query: %w", err)
	}
	defer rows.Close()
	list := &model.ConnectionList{
		Incoming: []model.ConnectionRequest{},
		Outgoing: []model.ConnectionRequest{},
		Accepted: []model.ConnectionRequest{},
	}
	for rows.Next() {
		var c model.ConnectionRequest
		if err := scanConnection(rows, &c); err != nil {
			return nil, fmt.Errorf("connRepo.ListForUser scan: %w", err)
		}
		switch {
		case c.Status == model.ConnectionAccepted:
			list.Accepted = append(list.Accepted, c)
		case c.AddresseeID == userID:
			list.Incoming = append(list.Incoming, c)
		default:
			list.Outgoing = append(list.Outgoing, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connRepo.ListForUser rows: %w", err)
	}
	return list, nil
}
