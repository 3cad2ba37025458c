package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            full_name TEXT NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS chats (
            id SERIAL PRIMARY KEY,
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            name TEXT NOT NULL DEFAULT '',
            admin_id INT,
            user1_id INT,
            user2_id INT,
            latest_message_id INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (is_group OR (user1_id IS NOT NULL AND user2_id IS NOT NULL AND user1_id < user2_id)),
            CHECK (NOT is_group OR (name <> '' AND admin_id IS NOT NULL))
        );`,
		// At most one direct chat per unordered user pair.
		`CREATE UNIQUE INDEX IF NOT EXISTS chats_direct_pair
            ON chats (user1_id, user2_id) WHERE NOT is_group;`,
		`CREATE TABLE IF NOT EXISTS chat_members (
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY(chat_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            text TEXT NOT NULL DEFAULT '',
            image_url TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (text <> '' OR image_url <> '')
        );`,
		`CREATE INDEX IF NOT EXISTS messages_chat_created
            ON messages (chat_id, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            PRIMARY KEY(message_id, user_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
