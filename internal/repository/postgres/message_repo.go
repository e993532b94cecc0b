package postgres

import (
	"context"

	"github.com/Tyrowin/roomchat/internal/errs"
	"github.com/Tyrowin/roomchat/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create appends a message row.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (uuid, content, is_encrypted, key_ref, message_type, file_url, file_name, author_id, group_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`
	var fileURL, fileName, keyRef *string
	if m.File != nil {
		fileURL, fileName = &m.File.URL, &m.File.Name
	}
	if m.KeyRef != "" {
		keyRef = &m.KeyRef
	}
	err := r.db.Pool.QueryRow(ctx, q,
		m.UUID, m.Content, m.IsEncrypted, keyRef, string(m.Type), fileURL, fileName, m.AuthorID, m.GroupID,
	).Scan(&m.ID, &m.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// ListRecent returns newest-first messages of one room.
// created_at ties are broken by id so pages never overlap.
func (r *MessageRepo) ListRecent(ctx context.Context, groupID *int64, limit, offset int) ([]model.Message, error) {
	const q = `
SELECT m.id, m.uuid, m.content, m.is_encrypted, m.key_ref, m.message_type, m.file_url, m.file_name,
       m.author_id, u.uuid, u.username, m.group_id, m.created_at, m.updated_at
FROM messages m
JOIN users u ON u.id = m.author_id
WHERE m.group_id IS NOT DISTINCT FROM $1
ORDER BY m.created_at DESC, m.id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, q, groupID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m                         model.Message
			msgType                   string
			keyRef, fileURL, fileName *string
		)
		if err := rows.Scan(&m.ID, &m.UUID, &m.Content, &m.IsEncrypted, &keyRef, &msgType, &fileURL, &fileName,
			&m.AuthorID, &m.AuthorUUID, &m.AuthorName, &m.GroupID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Type = model.MessageType(msgType)
		if keyRef != nil {
			m.KeyRef = *keyRef
		}
		if fileURL != nil {
			m.File = &model.FileRef{URL: *fileURL}
			if fileName != nil {
				m.File.Name = *fileName
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
