package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Report is one user-submitted abuse report.
type Report struct {
	Reporter    string
	ReportType  string
	Reason      string
	Description string
	CreatedAt   time.Time
}

// Repository persists reports and terminal match results to Postgres. The
// relay core never depends on it for correctness; every method on a nil
// repository is a no-op so deployments without DATABASE_URL lose nothing but
// history.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveReport inserts an abuse report.
func (r *Repository) SaveReport(ctx context.Context, rep *Report) error {
	if r == nil || r.db == nil || rep == nil {
		return nil
	}
	at := rep.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	q := `INSERT INTO reports (reporter, report_type, reason, description, created_at)
	      VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.ExecContext(ctx, q,
		strings.TrimSpace(rep.Reporter),
		strings.TrimSpace(rep.ReportType),
		strings.TrimSpace(rep.Reason),
		strings.TrimSpace(rep.Description),
		at,
	)
	return err
}

// SaveResult inserts one terminal match result.
func (r *Repository) SaveResult(ctx context.Context, roomID, result, winner string, movesUCI []string) error {
	if r == nil || r.db == nil {
		return nil
	}
	movesRaw, _ := json.Marshal(movesUCI)
	q := `INSERT INTO match_results (room_id, result, winner, moves_uci, ended_at)
	      VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.ExecContext(ctx, q,
		strings.TrimSpace(roomID),
		strings.TrimSpace(result),
		strings.TrimSpace(winner),
		string(movesRaw),
		time.Now(),
	)
	return err
}
