// Package sqlite archives finished runs for audit. Reconciliation never reads
// from the archive.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"divrecon/internal/domain"
)

type Run struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	NBIMFile       string
	CustodianFile  string
	Tolerance      string
	NBIMTotal      int
	CustodianTotal int
	BreakCount     int
	Escalations    int
	LLMProvider    string
	PlannerMode    string
}

func NewRunID() string {
	return uuid.NewString()
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS recon_runs (
		id              TEXT PRIMARY KEY,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME NOT NULL,
		nbim_file       TEXT NOT NULL,
		custodian_file  TEXT NOT NULL,
		tolerance       TEXT NOT NULL,
		nbim_total      INTEGER NOT NULL,
		custodian_total INTEGER NOT NULL,
		break_count     INTEGER NOT NULL,
		escalations     INTEGER NOT NULL DEFAULT 0,
		llm_provider    TEXT DEFAULT '',
		planner_mode    TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_recon_runs_started_at ON recon_runs(started_at);

	CREATE TABLE IF NOT EXISTS recon_breaks (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id           TEXT NOT NULL,
		isin             TEXT NOT NULL,
		account          TEXT NOT NULL,
		pay_date         TEXT NOT NULL,
		reason_code      TEXT NOT NULL,
		severity         TEXT NOT NULL,
		needs_escalation INTEGER NOT NULL DEFAULT 0,
		llm_source       TEXT NOT NULL,
		payload          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recon_breaks_run ON recon_breaks(run_id);

	CREATE TABLE IF NOT EXISTS agent_tasks (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id    TEXT NOT NULL,
		task_id   TEXT NOT NULL,
		agent     TEXT NOT NULL,
		priority  TEXT NOT NULL,
		objective TEXT NOT NULL,
		detail    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_tasks_run ON agent_tasks(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InsertRun stores the run with its breaks and tasks in one transaction.
func InsertRun(db *sql.DB, run Run, breaks []domain.BreakDetail, tasks []domain.AgentTask) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO recon_runs (id, started_at, finished_at, nbim_file, custodian_file, tolerance,
			nbim_total, custodian_total, break_count, escalations, llm_provider, planner_mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.NBIMFile, run.CustodianFile, run.Tolerance,
		run.NBIMTotal, run.CustodianTotal, run.BreakCount, run.Escalations, run.LLMProvider, run.PlannerMode,
	)
	if err != nil {
		return err
	}

	breakStmt, err := tx.Prepare(
		`INSERT INTO recon_breaks (run_id, isin, account, pay_date, reason_code, severity, needs_escalation, llm_source, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer breakStmt.Close()
	for _, b := range breaks {
		payload, err := json.Marshal(b)
		if err != nil {
			return err
		}
		_, err = breakStmt.Exec(
			run.ID, b.Key.ISIN, b.Key.Account, b.Key.PayDate.Format(domain.DateLayout), string(b.Reason),
			string(b.Annotation.Severity), b.Annotation.NeedsEscalation, b.Annotation.Source, string(payload),
		)
		if err != nil {
			return err
		}
	}

	taskStmt, err := tx.Prepare(
		`INSERT INTO agent_tasks (run_id, task_id, agent, priority, objective, detail) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer taskStmt.Close()
	for _, task := range tasks {
		detail, err := json.Marshal(task.Detail)
		if err != nil {
			return err
		}
		if _, err := taskStmt.Exec(run.ID, task.ID, task.Agent, task.Priority, task.Objective, string(detail)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRecentRuns returns up to limit runs, newest first.
func GetRecentRuns(db *sql.DB, limit int) ([]Run, error) {
	rows, err := db.Query(
		`SELECT id, started_at, finished_at, nbim_file, custodian_file, tolerance,
			nbim_total, custodian_total, break_count, escalations, llm_provider, planner_mode
		 FROM recon_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.FinishedAt, &r.NBIMFile, &r.CustodianFile, &r.Tolerance,
			&r.NBIMTotal, &r.CustodianTotal, &r.BreakCount, &r.Escalations, &r.LLMProvider, &r.PlannerMode,
		); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountBreaksByReason summarises one archived run.
func CountBreaksByReason(db *sql.DB, runID string) (map[string]int, error) {
	rows, err := db.Query(`SELECT reason_code, COUNT(*) FROM recon_breaks WHERE run_id = ? GROUP BY reason_code`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[reason] = n
	}
	return counts, rows.Err()
}
