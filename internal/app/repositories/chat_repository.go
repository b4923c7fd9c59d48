package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/dberrors"
	"github.com/yigit/coursechat/internal/pkg/helpers"
)

// tempIDConstraint is the unique constraint that makes sends idempotent per channel
const tempIDConstraint = "chat_messages_channel_temp_id_key"

// ChatRepository stores confirmed channel messages
type ChatRepository interface {
	// Create stores message. When a message with the same (channelId, tempId) already
	// exists it is returned instead and created is false.
	Create(ctx context.Context, message *models.Message) (stored *models.Message, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// ListByChannel returns one page of a channel, newest first, and the channel's total
	ListByChannel(ctx context.Context, channelID string, offset uint64, limit int) ([]models.Message, int64, error)
	Delete(ctx context.Context, id string) error
}

// PostgresChatRepository handles database operations for chat messages
type PostgresChatRepository struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

// NewChatRepository creates a new PostgresChatRepository
func NewChatRepository(db *pgxpool.Pool) *PostgresChatRepository {
	return &PostgresChatRepository{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var messageColumns = []string{
	"id", "channel_id", "temp_id", "sender_id", "sender_name", "sender_role", "kind",
	"content", "file_id", "file_url", "file_name", "file_size", "duration_sec",
	"thumbnail_url", "created_at",
}

// Create inserts a new chat message into the database
func (r *PostgresChatRepository) Create(ctx context.Context, message *models.Message) (*models.Message, bool, error) {
	var att models.Attachment
	if message.Attachment != nil {
		att = *message.Attachment
	}

	query, args, err := r.sb.Insert("chat_messages").
		Columns(messageColumns...).
		Values(
			message.ID,
			message.ChannelID,
			helpers.GetContentNullString(message.TempID),
			message.SenderID,
			helpers.GetContentNullString(message.SenderName),
			helpers.GetContentNullString(string(message.SenderRole)),
			message.Kind,
			helpers.GetContentNullString(message.Content),
			helpers.GetContentNullString(att.FileID),
			helpers.GetContentNullString(att.FileURL),
			helpers.GetContentNullString(att.FileName),
			helpers.GetNullInt64(att.Size),
			helpers.GetNullInt64(int64(att.DurationSec)),
			helpers.GetContentNullString(att.ThumbnailURL),
			message.CreatedAt,
		).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("error building SQL: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if dberrors.IsDuplicateConstraintError(err, tempIDConstraint) {
			existing, lookupErr := r.getByTempID(ctx, message.ChannelID, message.TempID)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("error creating chat message: %w", err)
	}

	stored := *message
	return &stored, true, nil
}

// GetByID retrieves a message by its ID
func (r *PostgresChatRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *PostgresChatRepository) getByTempID(ctx context.Context, channelID, tempID string) (*models.Message, error) {
	return r.getOne(ctx, squirrel.Eq{"channel_id": channelID, "temp_id": tempID})
}

func (r *PostgresChatRepository) getOne(ctx context.Context, where squirrel.Eq) (*models.Message, error) {
	query, args, err := r.sb.Select(messageColumns...).
		From("chat_messages").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	message, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewResourceNotFoundError("chat message not found")
		}
		return nil, fmt.Errorf("error retrieving chat message: %w", err)
	}
	return message, nil
}

// ListByChannel retrieves one page of a channel's messages, newest first
func (r *PostgresChatRepository) ListByChannel(ctx context.Context, channelID string, offset uint64, limit int) ([]models.Message, int64, error) {
	countSQL, countArgs, err := r.sb.Select("COUNT(*)").
		From("chat_messages").
		Where(squirrel.Eq{"channel_id": channelID}).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error building count SQL: %w", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		if dberrors.IsUndefinedTable(err) {
			return nil, 0, fmt.Errorf("chat_messages table missing, were migrations applied? %w", err)
		}
		return nil, 0, fmt.Errorf("error counting chat messages: %w", err)
	}
	if total == 0 {
		return []models.Message{}, 0, nil
	}

	query, args, err := r.sb.Select(messageColumns...).
		From("chat_messages").
		Where(squirrel.Eq{"channel_id": channelID}).
		OrderBy("created_at DESC", "id DESC").
		Offset(offset).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning chat message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating chat message rows: %w", err)
	}

	return messages, total, nil
}

// Delete removes a chat message
func (r *PostgresChatRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM chat_messages WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error deleting chat message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewResourceNotFoundError(fmt.Sprintf("no chat message found with ID %s", id))
	}

	return nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		m                                  models.Message
		tempID, senderName, senderRole     sql.NullString
		content, fileID, fileURL, fileName sql.NullString
		thumbnailURL                       sql.NullString
		fileSize, durationSec              sql.NullInt64
	)

	err := row.Scan(
		&m.ID,
		&m.ChannelID,
		&tempID,
		&m.SenderID,
		&senderName,
		&senderRole,
		&m.Kind,
		&content,
		&fileID,
		&fileURL,
		&fileName,
		&fileSize,
		&durationSec,
		&thumbnailURL,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.TempID = helpers.StringFromNull(tempID)
	m.SenderName = helpers.StringFromNull(senderName)
	m.SenderRole = models.Role(helpers.StringFromNull(senderRole))
	m.Content = helpers.StringFromNull(content)
	m.Status = models.MessageStatusConfirmed

	if fileID.Valid {
		m.Attachment = &models.Attachment{
			FileID:       fileID.String,
			FileURL:      helpers.StringFromNull(fileURL),
			FileName:     helpers.StringFromNull(fileName),
			Size:         fileSize.Int64,
			DurationSec:  int(durationSec.Int64),
			ThumbnailURL: helpers.StringFromNull(thumbnailURL),
		}
	}

	return &m, nil
}
