package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

const rowColumns = `plan_key, eid, pid, pos, row_type, name, tooltip, link, new_window, video, video_script, due_date, checked, visible, owner, updated_at`

// SQLRepository stores plans in Postgres or SQLite.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (s *SQLRepository) DB() *sql.DB {
	return s.db
}

func (s *SQLRepository) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *SQLRepository) GetPlan(ctx context.Context, key string) (Plan, error) {
	var item Plan
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT plan_key, plan_type, name, app_mode, key_id, created_at, updated_at
		FROM plans
		WHERE plan_key=?
	`), key).Scan(&item.Key, &item.PlanType, &item.Name, &item.AppMode, &item.KeyID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return item, nil
}

func (s *SQLRepository) UpsertPlan(ctx context.Context, item Plan) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO plans (plan_key, plan_type, name, app_mode, key_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan_key) DO UPDATE SET name=excluded.name, updated_at=excluded.updated_at
	`), item.Key, item.PlanType, item.Name, item.AppMode, item.KeyID, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

func (s *SQLRepository) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_key, plan_type, name, app_mode, key_id, created_at, updated_at
		FROM plans
		ORDER BY plan_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	items := make([]Plan, 0)
	for rows.Next() {
		var item Plan
		if err := rows.Scan(&item.Key, &item.PlanType, &item.Name, &item.AppMode, &item.KeyID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return items, nil
}

func (s *SQLRepository) ListRows(ctx context.Context, planKey string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+rowColumns+`
		FROM plan_rows
		WHERE plan_key=?
		ORDER BY pid, pos
	`), planKey)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	return scanRows(rows)
}

func (s *SQLRepository) GetRow(ctx context.Context, planKey, eid string) (Row, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+rowColumns+`
		FROM plan_rows
		WHERE plan_key=? AND eid=?
	`), planKey, eid)
	if err != nil {
		return Row{}, fmt.Errorf("get row: %w", err)
	}
	items, err := scanRows(rows)
	if err != nil {
		return Row{}, err
	}
	if len(items) == 0 {
		return Row{}, ErrNotFound
	}
	return items[0], nil
}

// UpsertRows writes rows in one transaction.
func (s *SQLRepository) UpsertRows(ctx context.Context, planKey string, items []Row) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert rows: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO plan_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan_key, eid) DO UPDATE SET
			pid=excluded.pid,
			pos=excluded.pos,
			name=excluded.name,
			tooltip=excluded.tooltip,
			link=excluded.link,
			new_window=excluded.new_window,
			video=excluded.video,
			video_script=excluded.video_script,
			due_date=excluded.due_date,
			checked=excluded.checked,
			visible=excluded.visible,
			owner=excluded.owner,
			updated_at=excluded.updated_at
	`))
	if err != nil {
		return fmt.Errorf("prepare upsert rows: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		var due sql.NullString
		if item.Date != nil {
			due = sql.NullString{String: *item.Date, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			planKey, item.EID, item.PID, item.Pos, string(item.Type),
			item.Name, item.Tooltip, item.Link, item.NewWindow, item.Video, item.VideoScript,
			due, int(item.Checked), item.Visible, item.Owner, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert row %s: %w", item.EID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert rows: %w", err)
	}
	return nil
}

func (s *SQLRepository) DeleteRows(ctx context.Context, planKey string, eids []string) error {
	if len(eids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(eids)), ", ")
	args := make([]any, 0, len(eids)+1)
	args = append(args, planKey)
	for _, eid := range eids {
		args = append(args, eid)
	}
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM plan_rows WHERE plan_key=? AND eid IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	return nil
}

// SearchRows is a case-insensitive substring match over the searchable
// columns. It backs search when no search engine is configured.
func (s *SQLRepository) SearchRows(ctx context.Context, planKey, query string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+rowColumns+`
		FROM plan_rows
		WHERE plan_key=?
			AND (LOWER(name) LIKE ? ESCAPE '\'
				OR LOWER(tooltip) LIKE ? ESCAPE '\'
				OR LOWER(link) LIKE ? ESCAPE '\'
				OR LOWER(video_script) LIKE ? ESCAPE '\')
		ORDER BY pid, pos
		LIMIT ?
	`), planKey, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return scanRows(rows)
}

func (s *SQLRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	items := make([]Row, 0)
	for rows.Next() {
		var (
			item    Row
			rowType string
			checked int
			due     sql.NullString
		)
		if err := rows.Scan(
			&item.PlanKey, &item.EID, &item.PID, &item.Pos, &rowType,
			&item.Name, &item.Tooltip, &item.Link, &item.NewWindow, &item.Video, &item.VideoScript,
			&due, &checked, &item.Visible, &item.Owner, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		item.Type = plan.RowType(rowType)
		item.Checked = plan.Checked(checked)
		if due.Valid {
			d := due.String
			item.Date = &d
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
