package report

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE TABLE IF NOT EXISTS injections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id TEXT NOT NULL,
	syscall TEXT NOT NULL,
	error TEXT NOT NULL,
	occurrence INTEGER NOT NULL,
	context TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	FOREIGN KEY (campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_injections_campaign ON injections(campaign_id);
`

// SQLiteSink is the optional database-backed report sink, selected via
// a "sqlite:<path>" output URI. Every SQLiteSink run is its own
// campaign, identified by a fresh UUID.
type SQLiteSink struct {
	db         *sql.DB
	campaignID string
}

// CampaignStats is a read-only snapshot of this sink's campaign.
type CampaignStats struct {
	CampaignID string
	Injections int
}

// OpenSQLiteSink opens (creating if necessary) a SQLite database at path
// and starts a new campaign row.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_synchronous=NORMAL",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open sqlite sink: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: init schema: %w", err)
	}

	campaignID := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO campaigns (id, started_at) VALUES (?, ?)`,
		campaignID, time.Now().Unix()); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: start campaign: %w", err)
	}

	return &SQLiteSink{db: db, campaignID: campaignID}, nil
}

// CampaignID returns the UUID assigned to this run.
func (s *SQLiteSink) CampaignID() string {
	return s.campaignID
}

func (s *SQLiteSink) Append(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO injections (campaign_id, syscall, error, occurrence, context, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.campaignID, r.Fault.Syscall, r.Fault.Error, r.Fault.Occurrence, r.Context, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("report: append injection: %w", err)
	}
	return nil
}

// Flush marks the campaign finished. Each Append is already durable on
// its own (no write buffering), so Flush has nothing else to commit.
func (s *SQLiteSink) Flush() error {
	_, err := s.db.Exec(`UPDATE campaigns SET finished_at = ? WHERE id = ?`, time.Now().Unix(), s.campaignID)
	if err != nil {
		return fmt.Errorf("report: finish campaign: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Stats reports the running injection count for this campaign.
func (s *SQLiteSink) Stats() (CampaignStats, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM injections WHERE campaign_id = ?`, s.campaignID).Scan(&n)
	if err != nil {
		return CampaignStats{}, fmt.Errorf("report: query stats: %w", err)
	}
	return CampaignStats{CampaignID: s.campaignID, Injections: n}, nil
}
