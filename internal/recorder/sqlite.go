package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"TrendSentinel/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists lines, checks, latches and settings to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &SQLiteRecorder{db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trend_lines (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol            TEXT NOT NULL,
			security_id       TEXT NOT NULL,
			anchor_date       TEXT NOT NULL,
			anchor_price      TEXT NOT NULL,
			angle             REAL NOT NULL,
			ratio             TEXT NOT NULL,
			price_field       TEXT NOT NULL DEFAULT 'low',
			line_data         TEXT,
			percent_diff      TEXT,
			percent_diff_date TEXT,
			created_at        INTEGER NOT NULL,
			UNIQUE (symbol, anchor_date, angle, ratio)
		)`,

		`CREATE TABLE IF NOT EXISTS trend_line_checks (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			trend_line_id        INTEGER NOT NULL REFERENCES trend_lines(id) ON DELETE CASCADE,
			date                 TEXT NOT NULL,
			line_price           TEXT NOT NULL,
			actual_price         TEXT,
			stop_loss_price      TEXT,
			buy_above_high_price TEXT,
			purchase_qty         INTEGER NOT NULL DEFAULT 0,
			touched              INTEGER NOT NULL DEFAULT 0,
			crossed              INTEGER NOT NULL DEFAULT 0,
			purchased            INTEGER NOT NULL DEFAULT 0,
			sold                 INTEGER NOT NULL DEFAULT 0,
			checked_at           INTEGER NOT NULL,
			UNIQUE (trend_line_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_flags ON trend_line_checks(touched, crossed, purchased, sold)`,

		`CREATE TABLE IF NOT EXISTS crossover_states (
			check_id   INTEGER NOT NULL REFERENCES trend_line_checks(id) ON DELETE CASCADE,
			fast_span  INTEGER NOT NULL,
			slow_span  INTEGER NOT NULL,
			kind       TEXT NOT NULL DEFAULT '',
			phase      TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (check_id, fast_span, slow_span, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS vibration_points (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			value         TEXT NOT NULL,
			last_modified INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ma_span_settings (
			fast_span     INTEGER NOT NULL,
			slow_span     INTEGER NOT NULL,
			kind          TEXT NOT NULL DEFAULT '',
			last_modified INTEGER NOT NULL,
			UNIQUE (fast_span, slow_span, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS sweep_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			lines       INTEGER,
			events      INTEGER,
			skipped     INTEGER,
			failed      INTEGER,
			note        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweep_kind_ts ON sweep_runs(kind, finished_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// pointJSON is the stored shape of one line point.
type pointJSON struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

func encodePoints(points []model.TrendLinePoint) (string, error) {
	out := make([]pointJSON, len(points))
	for i, p := range points {
		out[i] = pointJSON{Date: p.Date.Format(model.DateLayout), Value: p.Value}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodePoints(raw sql.NullString) ([]model.TrendLinePoint, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var in []pointJSON
	if err := json.Unmarshal([]byte(raw.String), &in); err != nil {
		return nil, fmt.Errorf("decode line_data: %w", err)
	}
	out := make([]model.TrendLinePoint, len(in))
	for i, p := range in {
		d, err := time.Parse(model.DateLayout, p.Date)
		if err != nil {
			return nil, fmt.Errorf("decode line_data date: %w", err)
		}
		out[i] = model.TrendLinePoint{Date: d, Value: p.Value}
	}
	return out, nil
}

const lineColumns = `id, symbol, security_id, anchor_date, anchor_price, angle, ratio, price_field,
	line_data, percent_diff, percent_diff_date, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLine(s scanner) (*model.TrendLineSpec, error) {
	var (
		l           model.TrendLineSpec
		anchor      string
		data        sql.NullString
		pct         decimal.NullDecimal
		pctDate     sql.NullString
		createdUnix int64
	)
	if err := s.Scan(&l.ID, &l.Symbol, &l.SecurityID, &anchor, &l.AnchorPrice, &l.Angle, &l.Ratio,
		&l.PriceField, &data, &pct, &pctDate, &createdUnix); err != nil {
		return nil, err
	}
	var err error
	if l.AnchorDate, err = time.Parse(model.DateLayout, anchor); err != nil {
		return nil, fmt.Errorf("parse anchor_date: %w", err)
	}
	if l.Points, err = decodePoints(data); err != nil {
		return nil, err
	}
	if pct.Valid {
		v := pct.Decimal
		l.PercentDiff = &v
	}
	if pctDate.Valid {
		if d, err := time.Parse(model.DateLayout, pctDate.String); err == nil {
			l.PercentDiffDate = &d
		}
	}
	l.CreatedAt = time.Unix(createdUnix, 0)
	return &l, nil
}

func (r *SQLiteRecorder) SaveLine(ctx context.Context, line *model.TrendLineSpec) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := encodePoints(line.Points)
	if err != nil {
		return 0, false, fmt.Errorf("encode points: %w", err)
	}
	field := line.PriceField
	if field == "" {
		field = "low"
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO trend_lines
		(symbol, security_id, anchor_date, anchor_price, angle, ratio, price_field, line_data, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (symbol, anchor_date, angle, ratio) DO NOTHING`,
		line.Symbol, line.SecurityID, line.AnchorDate.Format(model.DateLayout), line.AnchorPrice.String(),
		line.Angle, line.Ratio.String(), field, data, r.now().Unix(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert trend line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, err := res.LastInsertId()
		return id, true, err
	}
	var id int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM trend_lines
		WHERE symbol = ? AND anchor_date = ? AND angle = ? AND ratio = ?`,
		line.Symbol, line.AnchorDate.Format(model.DateLayout), line.Angle, line.Ratio.String(),
	).Scan(&id)
	return id, false, err
}

func (r *SQLiteRecorder) GetLine(ctx context.Context, id int64) (*model.TrendLineSpec, error) {
	l, err := scanLine(r.db.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM trend_lines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (r *SQLiteRecorder) queryLines(ctx context.Context, query string, args ...any) ([]model.TrendLineSpec, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TrendLineSpec
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) ListLines(ctx context.Context) ([]model.TrendLineSpec, error) {
	return r.queryLines(ctx, `SELECT `+lineColumns+` FROM trend_lines ORDER BY id`)
}

func (r *SQLiteRecorder) LinesToCheck(ctx context.Context, asOf time.Time) ([]model.TrendLineSpec, error) {
	return r.queryLines(ctx, `SELECT `+lineColumns+` FROM trend_lines l
		WHERE anchor_date <= ?
		  AND NOT EXISTS (SELECT 1 FROM trend_line_checks c WHERE c.trend_line_id = l.id AND c.touched = 1)
		ORDER BY id`, asOf.Format(model.DateLayout))
}

func (r *SQLiteRecorder) ReplacePoints(ctx context.Context, lineID int64, points []model.TrendLinePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := encodePoints(points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE trend_lines SET line_data = ? WHERE id = ?`, data, lineID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRecorder) SetPercentDiff(ctx context.Context, lineID int64, value decimal.Decimal, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `UPDATE trend_lines SET percent_diff = ?, percent_diff_date = ? WHERE id = ?`,
		value.String(), date.Format(model.DateLayout), lineID)
	return err
}

const checkColumns = `id, trend_line_id, date, line_price, actual_price, stop_loss_price, buy_above_high_price,
	purchase_qty, touched, crossed, purchased, sold, checked_at`

func scanCheck(s scanner) (model.CheckRecord, error) {
	var (
		c       model.CheckRecord
		date    string
		checked int64
	)
	if err := s.Scan(&c.ID, &c.LineID, &date, &c.LinePrice, &c.ActualPrice, &c.StopLossPrice, &c.BuyAboveHigh,
		&c.Quantity, &c.Touched, &c.Crossed, &c.Purchased, &c.Sold, &checked); err != nil {
		return model.CheckRecord{}, err
	}
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return model.CheckRecord{}, fmt.Errorf("parse check date: %w", err)
	}
	c.Date = d
	c.CheckedAt = time.Unix(checked, 0)
	return c, nil
}

func nullString(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func (r *SQLiteRecorder) UpsertCheck(ctx context.Context, rec model.CheckRecord) (model.CheckRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	date := rec.Date.Format(model.DateLayout)
	_, err := r.db.ExecContext(ctx, `INSERT INTO trend_line_checks
		(trend_line_id, date, line_price, actual_price, stop_loss_price, buy_above_high_price,
		 purchase_qty, touched, crossed, purchased, sold, checked_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (trend_line_id, date) DO UPDATE SET
			line_price           = excluded.line_price,
			actual_price         = COALESCE(excluded.actual_price, actual_price),
			stop_loss_price      = COALESCE(excluded.stop_loss_price, stop_loss_price),
			buy_above_high_price = COALESCE(excluded.buy_above_high_price, buy_above_high_price),
			purchase_qty         = CASE WHEN excluded.purchase_qty != 0 THEN excluded.purchase_qty ELSE purchase_qty END,
			touched              = MAX(touched, excluded.touched),
			crossed              = MAX(crossed, excluded.crossed),
			purchased            = MAX(purchased, excluded.purchased),
			sold                 = MAX(sold, excluded.sold),
			checked_at           = excluded.checked_at`,
		rec.LineID, date, rec.LinePrice.String(), nullString(rec.ActualPrice), nullString(rec.StopLossPrice),
		nullString(rec.BuyAboveHigh), rec.Quantity, rec.Touched, rec.Crossed, rec.Purchased, rec.Sold, r.now().Unix(),
	)
	if err != nil {
		return model.CheckRecord{}, fmt.Errorf("upsert check: %w", err)
	}
	return scanCheck(r.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM trend_line_checks WHERE trend_line_id = ? AND date = ?`, rec.LineID, date))
}

func (r *SQLiteRecorder) GetCheck(ctx context.Context, id int64) (model.CheckRecord, error) {
	c, err := scanCheck(r.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM trend_line_checks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckRecord{}, ErrNotFound
	}
	return c, err
}

func (r *SQLiteRecorder) queryChecks(ctx context.Context, query string, args ...any) ([]model.CheckRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CheckRecord
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) ListChecks(ctx context.Context, lineID int64) ([]model.CheckRecord, error) {
	return r.queryChecks(ctx, `SELECT `+checkColumns+` FROM trend_line_checks WHERE trend_line_id = ? ORDER BY date DESC`, lineID)
}

var stateFilter = map[model.LineState]string{
	model.StatePending:   `touched = 0`,
	model.StateTouched:   `touched = 1 AND crossed = 0 AND purchased = 0 AND sold = 0`,
	model.StateCrossed:   `crossed = 1 AND purchased = 0 AND sold = 0`,
	model.StatePurchased: `purchased = 1 AND sold = 0`,
	model.StateSold:      `sold = 1`,
}

func (r *SQLiteRecorder) ChecksInState(ctx context.Context, state model.LineState) ([]model.CheckRecord, error) {
	where, ok := stateFilter[state]
	if !ok {
		return nil, fmt.Errorf("unknown state %d", state)
	}
	return r.queryChecks(ctx, `SELECT `+checkColumns+` FROM trend_line_checks WHERE `+where+` ORDER BY id`)
}

func (r *SQLiteRecorder) CrossStates(ctx context.Context, checkID int64) (map[model.SpanPair]model.CrossState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT fast_span, slow_span, kind, phase, updated_at
		FROM crossover_states WHERE check_id = ?`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SpanPair]model.CrossState)
	for rows.Next() {
		var (
			st      model.CrossState
			updated int64
		)
		if err := rows.Scan(&st.Pair.Fast, &st.Pair.Slow, &st.Pair.Kind, &st.Phase, &updated); err != nil {
			return nil, err
		}
		st.CheckID = checkID
		st.UpdatedAt = time.Unix(updated, 0)
		out[st.Pair] = st
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) SaveCrossStates(ctx context.Context, states []model.CrossState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := r.now().Unix()
	for _, st := range states {
		if _, err := tx.ExecContext(ctx, `INSERT INTO crossover_states
			(check_id, fast_span, slow_span, kind, phase, updated_at) VALUES (?,?,?,?,?,?)
			ON CONFLICT (check_id, fast_span, slow_span, kind) DO UPDATE SET
				phase = excluded.phase, updated_at = excluded.updated_at`,
			st.CheckID, st.Pair.Fast, st.Pair.Slow, st.Pair.Kind, string(st.Phase), now); err != nil {
			return fmt.Errorf("save crossover state: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) ResetCrossStates(ctx context.Context, checkID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `UPDATE crossover_states SET phase = ?, updated_at = ? WHERE check_id = ?`,
		string(model.PhaseBelow), r.now().Unix(), checkID)
	return err
}

func (r *SQLiteRecorder) VibrationPoint(ctx context.Context) (decimal.NullDecimal, error) {
	var v decimal.NullDecimal
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM vibration_points ORDER BY last_modified DESC, id DESC LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	return v, err
}

func (r *SQLiteRecorder) SetVibrationPoint(ctx context.Context, pct decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO vibration_points (value, last_modified) VALUES (?, ?)`,
		pct.String(), r.now().Unix())
	return err
}

func (r *SQLiteRecorder) SpanPairs(ctx context.Context) ([]model.SpanPair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT fast_span, slow_span, kind FROM ma_span_settings ORDER BY fast_span, slow_span, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SpanPair
	for rows.Next() {
		var p model.SpanPair
		if err := rows.Scan(&p.Fast, &p.Slow, &p.Kind); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) SetSpanPairs(ctx context.Context, pairs []model.SpanPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM ma_span_settings`); err != nil {
		return err
	}
	now := r.now().Unix()
	for _, p := range pairs {
		p = p.Normalize()
		if _, err := tx.ExecContext(ctx, `INSERT INTO ma_span_settings (fast_span, slow_span, kind, last_modified)
			VALUES (?,?,?,?) ON CONFLICT DO NOTHING`, p.Fast, p.Slow, p.Kind, now); err != nil {
			return fmt.Errorf("insert span pair: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordSweep(ctx context.Context, rep *model.SweepReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO sweep_runs
		(kind, started_at, finished_at, lines, events, skipped, failed, note)
		VALUES (?,?,?,?,?,?,?,?)`,
		string(rep.Kind), rep.StartedAt.Unix(), rep.FinishedAt.Unix(),
		rep.Lines, rep.Events, rep.Skipped, rep.Failed, rep.Note,
	)
	return err
}

func (r *SQLiteRecorder) LastSweeps(ctx context.Context) (map[model.SweepKind]model.SweepReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, started_at, finished_at, lines, events, skipped, failed, note
		FROM sweep_runs s
		WHERE id = (SELECT MAX(id) FROM sweep_runs WHERE kind = s.kind)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SweepKind]model.SweepReport)
	for rows.Next() {
		var (
			rep             model.SweepReport
			started, finish int64
			note            sql.NullString
		)
		if err := rows.Scan(&rep.Kind, &started, &finish, &rep.Lines, &rep.Events, &rep.Skipped, &rep.Failed, &note); err != nil {
			return nil, err
		}
		rep.StartedAt, rep.FinishedAt, rep.Note = time.Unix(started, 0), time.Unix(finish, 0), note.String
		out[rep.Kind] = rep
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
