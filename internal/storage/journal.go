package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal is a local audit trail of proposals this operator submitted. Like
// the handle cache it is informational only; proposal state on the ledger is
// authoritative.
type Journal struct {
	db *sql.DB
}

// JournalEntry is one recorded proposal.
type JournalEntry struct {
	ID        int64
	Multisig  string
	TxIndex   uint64
	Kind      string // e.g. "set_outbound_limit", "claim_ownership"
	Signature string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		multisig TEXT NOT NULL,
		tx_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		signature TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(multisig, tx_index)
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_multisig
		ON proposals(multisig);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// RecordProposal inserts a freshly submitted proposal.
func (j *Journal) RecordProposal(multisig string, txIndex uint64, kind, signature, status string) (int64, error) {
	now := time.Now().UTC()
	res, err := j.db.Exec(`
		INSERT INTO proposals (multisig, tx_index, kind, signature, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		multisig, txIndex, kind, signature, status, now, now)
	if err != nil {
		return 0, fmt.Errorf("record proposal: %w", err)
	}
	return res.LastInsertId()
}

// UpdateStatus records a status transition observed on the ledger.
func (j *Journal) UpdateStatus(multisig string, txIndex uint64, status string) error {
	_, err := j.db.Exec(`
		UPDATE proposals SET status = ?, updated_at = ?
		WHERE multisig = ? AND tx_index = ?`,
		status, time.Now().UTC(), multisig, txIndex)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}

// ListProposals returns the journal entries for a multisig, newest first.
func (j *Journal) ListProposals(multisig string) ([]JournalEntry, error) {
	rows, err := j.db.Query(`
		SELECT id, multisig, tx_index, kind, signature, status, created_at, updated_at
		FROM proposals WHERE multisig = ? ORDER BY tx_index DESC`, multisig)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Multisig, &e.TxIndex, &e.Kind, &e.Signature,
			&e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
