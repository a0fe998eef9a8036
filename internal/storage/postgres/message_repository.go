package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository создаёт PostgreSQL-реализацию MessageRepository.
func NewMessageRepository(store *Store) domain.MessageRepository {
	return &messageRepository{db: store.DB()}
}

func (r *messageRepository) Add(ctx context.Context, msg domain.ReturnMessage) error {
	media, err := jsonValue(msg.MediaURLs, "[]")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO return_messages (
			id, return_request_id, sender_id, sender_role, message, media_urls, read_by_buyer, read_by_seller, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		msg.ID, msg.ReturnRequestID, msg.SenderID, string(msg.SenderRole), msg.Message, media,
		msg.ReadByBuyer, msg.ReadBySeller, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert return message: %w", err)
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, returnRequestID string) ([]domain.ReturnMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, return_request_id, sender_id, sender_role, message, media_urls, read_by_buyer, read_by_seller, created_at
		FROM return_messages
		WHERE return_request_id = $1
		ORDER BY seq ASC
	`, returnRequestID)
	if err != nil {
		return nil, fmt.Errorf("query return messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnMessage, 0)
	for rows.Next() {
		var (
			msg   domain.ReturnMessage
			role  string
			media []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ReturnRequestID, &msg.SenderID, &role, &msg.Message, &media,
			&msg.ReadByBuyer, &msg.ReadBySeller, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan return message: %w", err)
		}
		msg.SenderRole = domain.Role(role)
		if err := json.Unmarshal(media, &msg.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode message media: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return messages: %w", err)
	}
	return result, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, returnRequestID, readerID string, party domain.Party) (int, error) {
	var column string
	switch party {
	case domain.PartyBuyer:
		column = "read_by_buyer"
	case domain.PartySeller:
		column = "read_by_seller"
	default:
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE return_messages
		SET `+column+` = TRUE
		WHERE return_request_id = $1
		  AND sender_id <> $2
		  AND `+column+` = FALSE
	`, returnRequestID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark return messages read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.MessageRepository = (*messageRepository)(nil)
