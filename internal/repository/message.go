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

const messageCols = `id::text, sender_id, receiver_id, content, created_at, read_at`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.ReadAt)
}

func collectMessages(rows pgx.Rows, op string) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.%s scan: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.%s rows: %w", op, err)
	}
	return out, nil
}

// Insert сохраняет сообщение; id и created_at назначает сервер, read_at пустой.
// Несуществующий получатель → ErrNotFound.
func (r *MessageRepository) Insert(ctx context.Context, senderID, receiverID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	m := &model.Message{}
	row := r.db.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageCols,
		uuid.NewString(), senderID, receiverID, content,
	)
	if err := scanMessage(row, m); err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.Insert: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	m := &model.Message{}
	row := r.db.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListThread возвращает переписку пары в обоих направлениях по возрастанию created_at.
func (r *MessageRepository) ListThread(ctx context.Context, userID, otherID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListThread", time.Now())()
	rows, err := r.db.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at ASC, id ASC`,
		userID, otherID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListThread query: %w", err)
	}
	return collectMessages(rows, "ListThread")
}

// ListForUser: последние limit сообщений, где пользователь отправитель или получатель (новые первыми).
func (r *MessageRepository) ListForUser(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListForUser", time.Now())()
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages
		 WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListForUser query: %w", err)
	}
	return collectMessages(rows, "ListForUser")
}

// MarkRead отмечает прочитанными непрочитанные сообщения senderID → receiverID.
// Возвращает число обновлённых строк.
func (r *MessageRepository) MarkRead(ctx context.Context, receiverID, senderID string) (int, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET read_at = now()
		 WHERE receiver_id = $1 AND sender_id = $2 AND read_at IS NULL`,
		receiverID, senderID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
