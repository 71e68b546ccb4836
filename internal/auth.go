package internal

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
)

// OperatorStore keeps operator accounts and their login sessions
type OperatorStore struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewOperatorStore(db *sql.DB) *OperatorStore {
	return &OperatorStore{db: db, sessionTTL: 30 * 24 * time.Hour}
}

// CreateOperator creates a new operator with hashed password
func (s *OperatorStore) CreateOperator(username, password string) (*Operator, error) {
	operatorID := uuid.New().String()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	createdAt := time.Now().Unix()

	_, err = s.db.Exec(
		"INSERT INTO operators (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		operatorID, username, string(hashedPassword), createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	return &Operator{
		ID:           operatorID,
		Username:     username,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Unix(createdAt, 0),
	}, nil
}

// GetOperatorByUsername retrieves an operator by username
func (s *OperatorStore) GetOperatorByUsername(username string) (*Operator, error) {
	var operator Operator
	var createdAt int64

	err := s.db.QueryRow(
		"SELECT id, username, password_hash, created_at FROM operators WHERE username = ?",
		username,
	).Scan(&operator.ID, &operator.Username, &operator.PasswordHash, &createdAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}

	operator.CreatedAt = time.Unix(createdAt, 0)
	return &operator, nil
}

// VerifyPassword checks if the provided password matches the operator's password hash
func VerifyPassword(operator *Operator, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password))
	return err == nil
}

// GenerateSessionID generates a random session ID
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession creates a new session for an operator
func (s *OperatorStore) CreateSession(operator *Operator) (*Session, error) {
	sessionID, err := GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	createdAt := time.Now()
	expiresAt := createdAt.Add(s.sessionTTL)

	_, err = s.db.Exec(
		"INSERT INTO sessions (id, operator_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		sessionID, operator.ID, createdAt.Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:         sessionID,
		OperatorID: operator.ID,
		Username:   operator.Username,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// GetSession retrieves a session by ID
func (s *OperatorStore) GetSession(sessionID string) (*Session, error) {
	var session Session
	var createdAt, expiresAt int64

	err := s.db.QueryRow(
		`SELECT s.id, s.operator_id, o.username, s.created_at, s.expires_at
		FROM sessions s
		JOIN operators o ON s.operator_id = o.id
		WHERE s.id = ?`,
		sessionID,
	).Scan(&session.ID, &session.OperatorID, &session.Username, &createdAt, &expiresAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)

	if time.Now().After(session.ExpiresAt) {
		s.DeleteSession(sessionID)
		return nil, ErrSessionExpired
	}

	return &session, nil
}

// DeleteSession deletes a session by ID
func (s *OperatorStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// CleanExpiredSessions removes all expired sessions
func (s *OperatorStore) CleanExpiredSessions() error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE expires_at < ?", time.Now().Unix())
	return err
}

// SetPassword updates the password of an existing operator or creates the
// operator when the username is unknown
func (s *OperatorStore) SetPassword(username, password string) (created bool, err error) {
	operator, err := s.GetOperatorByUsername(username)
	if errors.Is(err, ErrOperatorNotFound) {
		if _, err := s.CreateOperator(username, password); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE operators SET password_hash = ? WHERE id = ?",
		string(hashedPassword), operator.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update password: %w", err)
	}

	// existing sessions must log in again with the new password
	if _, err := s.db.Exec("DELETE FROM sessions WHERE operator_id = ?", operator.ID); err != nil {
		return false, fmt.Errorf("failed to drop sessions: %w", err)
	}
	return false, nil
}

// ListOperators returns all operators in the database
func (s *OperatorStore) ListOperators() ([]Operator, error) {
	rows, err := s.db.Query("SELECT id, username, password_hash, created_at FROM operators ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to query operators: %w", err)
	}
	defer rows.Close()

	var operators []Operator
	for rows.Next() {
		var operator Operator
		var createdAt int64
		if err := rows.Scan(&operator.ID, &operator.Username, &operator.PasswordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan operator: %w", err)
		}
		operator.CreatedAt = time.Unix(createdAt, 0)
		operators = append(operators, operator)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operators: %w", err)
	}

	return operators, nil
}
