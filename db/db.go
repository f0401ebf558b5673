// Package db is the optional snapshot store. The server core never touches
// it on the request path; the bootstrap loads a snapshot at start and saves
// one on shutdown. A snapshot carries everything needed to rebuild the
// in-memory state without breaking invariants: the user set with password
// hashes, every chat's full message log with assigned sequence numbers, and
// the per-(user,chat) cursors.
package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pollchat/models"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			login TEXT PRIMARY KEY,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat TEXT NOT NULL,
			login TEXT NOT NULL,
			UNIQUE(chat, login)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			chat TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY(chat, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS cursors (
			login TEXT NOT NULL,
			chat TEXT NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY(login, chat)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// SaveSnapshot replaces the stored snapshot with the given state in one
// transaction.
func (db *DB) SaveSnapshot(users []models.User, chats []models.ChatState) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"users", "chats", "chat_members", "messages", "cursors"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	for _, user := range users {
		if _, err := tx.Exec(
			"INSERT INTO users (login, password) VALUES (?, ?)",
			user.Login, user.PasswordHash,
		); err != nil {
			return err
		}
	}

	for _, chat := range chats {
		if _, err := tx.Exec(
			"INSERT INTO chats (name, kind) VALUES (?, ?)",
			chat.Name, chat.Kind,
		); err != nil {
			return err
		}
		for _, member := range chat.Members {
			if _, err := tx.Exec(
				"INSERT INTO chat_members (chat, login) VALUES (?, ?)",
				chat.Name, member,
			); err != nil {
				return err
			}
		}
		for _, msg := range chat.Messages {
			if _, err := tx.Exec(
				"INSERT INTO messages (chat, seq, sender, body, timestamp) VALUES (?, ?, ?, ?, ?)",
				chat.Name, msg.Seq, msg.Sender, msg.Body, msg.Timestamp.Format(time.RFC3339),
			); err != nil {
				return err
			}
		}
		for login, seq := range chat.Cursors {
			if _, err := tx.Exec(
				"INSERT INTO cursors (login, chat, seq) VALUES (?, ?, ?)",
				login, chat.Name, seq,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads the stored snapshot back. Messages come out ordered by
// sequence number, so a restored log is identical to the saved one.
func (db *DB) LoadSnapshot() ([]models.User, []models.ChatState, error) {
	users, err := db.loadUsers()
	if err != nil {
		return nil, nil, err
	}

	chats, err := db.loadChats()
	if err != nil {
		return nil, nil, err
	}

	return users, chats, nil
}

func (db *DB) loadUsers() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT login, password FROM users ORDER BY login")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Login, &user.PasswordHash); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

func (db *DB) loadChats() ([]models.ChatState, error) {
	rows, err := db.conn.Query("SELECT name, kind FROM chats ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.ChatState
	for rows.Next() {
		var chat models.ChatState
		if err := rows.Scan(&chat.Name, &chat.Kind); err != nil {
			return nil, err
		}
		chat.Cursors = make(map[string]int64)
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if err := db.fillChat(&chats[i]); err != nil {
			return nil, err
		}
	}

	return chats, nil
}

func (db *DB) fillChat(chat *models.ChatState) error {
	memberRows, err := db.conn.Query(
		"SELECT login FROM chat_members WHERE chat = ? ORDER BY login", chat.Name,
	)
	if err != nil {
		return err
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var login string
		if err := memberRows.Scan(&login); err != nil {
			return err
		}
		chat.Members = append(chat.Members, login)
	}
	if err := memberRows.Err(); err != nil {
		return err
	}

	msgRows, err := db.conn.Query(
		"SELECT seq, sender, body, timestamp FROM messages WHERE chat = ? ORDER BY seq ASC", chat.Name,
	)
	if err != nil {
		return err
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var msg models.Message
		var timestampStr string
		if err := msgRows.Scan(&msg.Seq, &msg.Sender, &msg.Body, &timestampStr); err != nil {
			return err
		}
		msg.Chat = chat.Name
		msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return err
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return err
	}

	cursorRows, err := db.conn.Query(
		"SELECT login, seq FROM cursors WHERE chat = ?", chat.Name,
	)
	if err != nil {
		return err
	}
	defer cursorRows.Close()

	for cursorRows.Next() {
		var login string
		var seq int64
		if err := cursorRows.Scan(&login, &seq); err != nil {
			return err
		}
		chat.Cursors[login] = seq
	}
	return cursorRows.Err()
}
