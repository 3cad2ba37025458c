package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"skillswap-chat-service/internal/models"
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrSelfChat      = errors.New("cannot create chat with self")
	ErrGroupTooSmall = errors.New("group chat needs at least two members")
)

// ChatRepository abstracts conversation persistence.
type ChatRepository interface {
	FindDirectChat(ctx context.Context, userA, userB int) (models.Chat, error)
	CreateDirectChat(ctx context.Context, userA, userB int) (models.Chat, error)
	ResolveOrCreateDirect(ctx context.Context, userA, userB int) (models.Chat, error)
	CreateGroupChat(ctx context.Context, adminID int, name string, memberIDs []int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	IsMember(ctx context.Context, chatID, userID int) (bool, error)
	Members(ctx context.Context, chatID int) ([]int, error)
	SetLatestMessage(ctx context.Context, chatID, messageID int) error
	ListForUser(ctx context.Context, userID int) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, is_group, name, admin_id, user1_id, user2_id, latest_message_id, created_at, updated_at`

// FindDirectChat looks up the direct chat between two users regardless of
// argument order. Returns ErrChatNotFound when the pair has no chat.
func (r *ChatRepo) FindDirectChat(ctx context.Context, userA, userB int) (models.Chat, error) {
	user1, user2 := orderPair(userA, userB)
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT `+chatColumns+` FROM chats WHERE NOT is_group AND user1_id=$1 AND user2_id=$2`,
		user1, user2)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// CreateDirectChat inserts a direct chat for the pair. Losing a creation
// race surfaces as ErrChatNotFound from the conflict-suppressed insert;
// callers wanting idempotency use ResolveOrCreateDirect.
func (r *ChatRepo) CreateDirectChat(ctx context.Context, userA, userB int) (models.Chat, error) {
	if userA == userB {
		return models.Chat{}, ErrSelfChat
	}
	user1, user2 := orderPair(userA, userB)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (is_group, user1_id, user2_id) VALUES (FALSE, $1, $2)
         ON CONFLICT (user1_id, user2_id) WHERE NOT is_group DO NOTHING
         RETURNING `+chatColumns, user1, user2).StructScan(&chat)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrChatNotFound
		return models.Chat{}, err
	}
	if err != nil {
		return models.Chat{}, err
	}

	for _, id := range []int{user1, user2} {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// ResolveOrCreateDirect returns the pair's direct chat, creating it on first
// contact. Concurrent first sends from both sides converge on one chat: the
// loser of the insert race re-reads the winner's row.
func (r *ChatRepo) ResolveOrCreateDirect(ctx context.Context, userA, userB int) (models.Chat, error) {
	chat, err := r.FindDirectChat(ctx, userA, userB)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, ErrChatNotFound) {
		return models.Chat{}, err
	}

	chat, err = r.CreateDirectChat(ctx, userA, userB)
	if errors.Is(err, ErrChatNotFound) {
		return r.FindDirectChat(ctx, userA, userB)
	}
	return chat, err
}

// CreateGroupChat creates a group chat and its members atomically. The admin
// is always a member; a group of just the admin is rejected.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, adminID int, name string, memberIDs []int) (models.Chat, error) {
	memberSet := map[int]struct{}{adminID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	if len(memberSet) < 2 {
		return models.Chat{}, ErrGroupTooSmall
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (is_group, name, admin_id) VALUES (TRUE, $1, $2) RETURNING `+chatColumns,
		name, adminID).StructScan(&chat); err != nil {
		return models.Chat{}, err
	}

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsMember checks whether a user belongs to the chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// Members returns all member ids of a chat.
func (r *ChatRepo) Members(ctx context.Context, chatID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM chat_members WHERE chat_id=$1 ORDER BY user_id`, chatID)
	return ids, err
}

// SetLatestMessage moves the chat's latest-message pointer and bumps
// updated_at. Concurrent sends race last-writer-wins on the pointer.
func (r *ChatRepo) SetLatestMessage(ctx context.Context, chatID, messageID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET latest_message_id=$2, updated_at=NOW() WHERE id=$1`, chatID, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// ListForUser returns the user's chats newest-activity-first, each hydrated
// with member display data and a latest-message summary. The single query
// pair here is the only place the conversation-list projection lives.
func (r *ChatRepo) ListForUser(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	rows, err := r.db.QueryxContext(ctx, `
        SELECT c.id, c.is_group, c.name, c.updated_at,
               lm.id AS lm_id, lm.text AS lm_text, lm.image_url AS lm_image_url, lm.created_at AS lm_created_at,
               lu.id AS lu_id, lu.full_name AS lu_full_name, lu.avatar_url AS lu_avatar_url,
               COALESCE((SELECT array_agg(r.user_id ORDER BY r.user_id) FROM message_reads r WHERE r.message_id = lm.id), '{}') AS lm_read_by
        FROM chats c
        JOIN chat_members me ON me.chat_id = c.id AND me.user_id = $1
        LEFT JOIN messages lm ON lm.id = c.latest_message_id
        LEFT JOIN users lu ON lu.id = lm.sender_id
        ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ChatSummary
	chatIDs := make([]int64, 0)
	for rows.Next() {
		var (
			summary   models.ChatSummary
			updatedAt time.Time
			lmID      sql.NullInt64
			lmText    sql.NullString
			lmImage   sql.NullString
			lmCreated sql.NullTime
			luID      sql.NullInt64
			luName    sql.NullString
			luAvatar  sql.NullString
			readBy    pq.Int64Array
		)
		if err := rows.Scan(&summary.ChatID, &summary.IsGroup, &summary.Name, &updatedAt,
			&lmID, &lmText, &lmImage, &lmCreated,
			&luID, &luName, &luAvatar, &readBy); err != nil {
			return nil, err
		}
		summary.UpdatedAt = updatedAt
		summary.Members = []models.UserSummary{}
		if lmID.Valid {
			summary.LatestMessage = &models.MessageSummary{
				ID:        int(lmID.Int64),
				Text:      lmText.String,
				ImageURL:  lmImage.String,
				ReadBy:    toIntSlice(readBy),
				CreatedAt: lmCreated.Time,
				Sender: models.UserSummary{
					ID:        int(luID.Int64),
					FullName:  luName.String,
					AvatarURL: luAvatar.String,
				},
			}
		}
		summaries = append(summaries, summary)
		chatIDs = append(chatIDs, int64(summary.ChatID))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	memberRows, err := r.db.QueryxContext(ctx, `
        SELECT cm.chat_id, u.id, u.full_name, u.avatar_url
        FROM chat_members cm
        JOIN users u ON u.id = cm.user_id
        WHERE cm.chat_id = ANY($1)
        ORDER BY cm.chat_id, u.id`, pq.Array(chatIDs))
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()

	membersByChat := map[int][]models.UserSummary{}
	for memberRows.Next() {
		var chatID int
		var member models.UserSummary
		if err := memberRows.Scan(&chatID, &member.ID, &member.FullName, &member.AvatarURL); err != nil {
			return nil, err
		}
		membersByChat[chatID] = append(membersByChat[chatID], member)
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		for _, member := range membersByChat[summaries[i].ChatID] {
			// Direct chats show only the peer; groups show everyone.
			if !summaries[i].IsGroup && member.ID == userID {
				continue
			}
			summaries[i].Members = append(summaries[i].Members, member)
		}
	}
	return summaries, nil
}

func orderPair(userA, userB int) (int, int) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

func toIntSlice(arr pq.Int64Array) []int {
	out := make([]int, 0, len(arr))
	for _, v := range arr {
		out = append(out, int(v))
	}
	return out
}
