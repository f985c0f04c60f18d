package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solcredito/solcredito/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	stateMu sync.Mutex // Serializes state upserts to avoid SQLITE_BUSY under write bursts
}

// NewSQLite creates a new SQLite-backed store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		title TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS loan_applications (
		conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
		user_id TEXT NOT NULL,
		loan_purpose TEXT,
		risk_score REAL,
		loan_amount REAL NOT NULL,
		term_days INTEGER NOT NULL,
		interest_rate REAL NOT NULL,
		status TEXT NOT NULL,
		offer_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_state (
		conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateConversation maps (userID, sessionID) to a stable conversation ID.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userID, sessionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}

	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, session_id, title, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO NOTHING`,
		id, userID, sessionID, "Loan Inquiry", time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	// Re-select to cover the conflict path: a concurrent insert may have won.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reload conversation: %w", err)
	}
	return id, nil
}

// AppendMessages appends messages to the conversation log in order.
func (s *SQLiteStore) AppendMessages(ctx context.Context, conversationID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().Unix()
	for _, msg := range msgs {
		content, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content_json, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, string(msg.Role), string(content), now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// MessageCount returns how many messages are stored for a conversation.
func (s *SQLiteStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// SaveLoanOffer records the underwriting result, write-once per conversation.
func (s *SQLiteStore) SaveLoanOffer(ctx context.Context, conversationID, userID string, offer domain.LoanOffer, riskScore *float64, loanPurpose *string) error {
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}

	var purpose sql.NullString
	if loanPurpose != nil {
		purpose = sql.NullString{String: *loanPurpose, Valid: true}
	}
	var risk sql.NullFloat64
	if riskScore != nil {
		risk = sql.NullFloat64{Float64: *riskScore, Valid: true}
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO loan_applications
		 (conversation_id, user_id, loan_purpose, risk_score, loan_amount, term_days, interest_rate, status, offer_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO NOTHING`,
		conversationID, userID, purpose, risk,
		offer.Amount, offer.TermDays, offer.InterestRateFlat,
		LoanStatusOffered, string(offerJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert loan application: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("loan application rows affected: %w", err)
	}
	if rows == 0 {
		return ErrOfferExists
	}
	return nil
}

// UpdateLoanStatus moves the loan application through its status lifecycle.
func (s *SQLiteStore) UpdateLoanStatus(ctx context.Context, conversationID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE loan_applications SET status = ?, updated_at = ? WHERE conversation_id = ?`,
		status, time.Now().Unix(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("update loan status: %w", err)
	}
	return nil
}

// LoadState retrieves the persisted State Record snapshot, or (nil, nil) when
// no snapshot exists yet.
func (s *SQLiteStore) LoadState(ctx context.Context, conversationID string) (*domain.State, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM conversation_state WHERE conversation_id = ?`, conversationID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Tasks == nil {
		state.Tasks = domain.NewTaskLedger()
	}
	return &state, nil
}

// SaveState persists the State Record snapshot for the conversation.
func (s *SQLiteStore) SaveState(ctx context.Context, state *domain.State) error {
	if state.ConversationID == "" {
		return fmt.Errorf("save state: conversation id not set")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (conversation_id, state_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		state.ConversationID, string(stateJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}
