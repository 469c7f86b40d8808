package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All uint64 amounts are stored as NUMERIC(20,0) and exchanged as text so the
// full unsigned range survives the round trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Update runs fn inside a database transaction. Rows touched by GetMarket
// and NextMarketID are locked FOR UPDATE until commit.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	return getMarket(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, title, judge, end_time::TEXT, total_pool::TEXT,
		        winning_outcome, resolved
		 FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetPools(ctx context.Context, marketID uint64) ([model.NumOutcomes]uint64, error) {
	var pools [model.NumOutcomes]uint64

	rows, err := s.pool.Query(ctx,
		`SELECT outcome, amount::TEXT FROM pools WHERE market_id = $1::NUMERIC`,
		u64(marketID))
	if err != nil {
		return pools, fmt.Errorf("postgres: get pools %d: %w", marketID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome int16
		var amountS string
		if err := rows.Scan(&outcome, &amountS); err != nil {
			return pools, err
		}
		amount, err := parseU64(amountS)
		if err != nil {
			return pools, err
		}
		if outcome >= 0 && int(outcome) < model.NumOutcomes {
			pools[outcome] = amount
		}
	}
	return pools, rows.Err()
}

func (s *PostgresStore) GetBet(ctx context.Context, key model.BetKey) (uint64, error) {
	return getBet(ctx, s.pool, key)
}

func (s *PostgresStore) ListBetsByOwner(ctx context.Context, owner account.Owner) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id::TEXT, outcome, amount::TEXT
		 FROM bets WHERE owner = $1 AND amount > 0
		 ORDER BY market_id, outcome`, owner[:])
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", owner, err)
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		var marketS, amountS string
		var outcome int16
		if err := rows.Scan(&marketS, &outcome, &amountS); err != nil {
			return nil, err
		}
		b := model.Bet{Owner: owner, Outcome: model.Outcome(outcome)}
		if b.MarketID, err = parseU64(marketS); err != nil {
			return nil, err
		}
		if b.Amount, err = parseU64(amountS); err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) GetEntriesByMarket(ctx context.Context, marketID uint64) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, market_id::TEXT, owner, outcome, amount::TEXT, timestamp
		 FROM ledger_entries WHERE market_id = $1::NUMERIC ORDER BY seq`, u64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) GetEntriesByOwner(ctx context.Context, owner account.Owner) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, market_id::TEXT, owner, outcome, amount::TEXT, timestamp
		 FROM ledger_entries WHERE owner = $1 ORDER BY seq`, owner[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// RunMigrations applies the embedded SQL files in lexicographic order and
// tracks applied files in a schema_migrations table.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := s.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)",
			entry.Name(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// pgTx implements Tx over an open pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) NextMarketID(ctx context.Context) (uint64, error) {
	var s string
	err := t.q.QueryRow(ctx,
		`SELECT value::TEXT FROM ledger_counters WHERE name = 'next_market_id' FOR UPDATE`).
		Scan(&s)
	if err != nil {
		return 0, fmt.Errorf("postgres: read market counter: %w", err)
	}
	return parseU64(s)
}

func (t *pgTx) SetNextMarketID(ctx context.Context, next uint64) error {
	_, err := t.q.Exec(ctx,
		`UPDATE ledger_counters SET value = $1::NUMERIC WHERE name = 'next_market_id'`,
		u64(next))
	if err != nil {
		return fmt.Errorf("postgres: write market counter: %w", err)
	}
	return nil
}

func (t *pgTx) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	return getMarket(ctx, t.q, id, true)
}

func (t *pgTx) PutMarket(ctx context.Context, m *model.Market) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO markets (id, title, judge, end_time, total_pool, winning_outcome, resolved)
		 VALUES ($1::NUMERIC, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			total_pool      = EXCLUDED.total_pool,
			winning_outcome = EXCLUDED.winning_outcome,
			resolved        = EXCLUDED.resolved`,
		u64(m.ID), m.Title, m.Judge[:], u64(m.EndTime), u64(m.TotalPool),
		int16(m.WinningOutcome), m.Resolved,
	)
	if err != nil {
		return fmt.Errorf("postgres: put market %d: %w", m.ID, err)
	}
	return nil
}

func (t *pgTx) GetPool(ctx context.Context, key model.PoolKey) (uint64, error) {
	var s string
	err := t.q.QueryRow(ctx,
		`SELECT amount::TEXT FROM pools WHERE market_id = $1::NUMERIC AND outcome = $2`,
		u64(key.MarketID), int16(key.Outcome)).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get pool %d/%d: %w", key.MarketID, key.Outcome, err)
	}
	return parseU64(s)
}

func (t *pgTx) PutPool(ctx context.Context, key model.PoolKey, amount uint64) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO pools (market_id, outcome, amount) VALUES ($1::NUMERIC, $2, $3::NUMERIC)
		 ON CONFLICT (market_id, outcome) DO UPDATE SET amount = EXCLUDED.amount`,
		u64(key.MarketID), int16(key.Outcome), u64(amount))
	if err != nil {
		return fmt.Errorf("postgres: put pool %d/%d: %w", key.MarketID, key.Outcome, err)
	}
	return nil
}

func (t *pgTx) GetBet(ctx context.Context, key model.BetKey) (uint64, error) {
	return getBet(ctx, t.q, key)
}

func (t *pgTx) PutBet(ctx context.Context, key model.BetKey, amount uint64) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO bets (market_id, owner, outcome, amount) VALUES ($1::NUMERIC, $2, $3, $4::NUMERIC)
		 ON CONFLICT (market_id, owner, outcome) DO UPDATE SET amount = EXCLUDED.amount`,
		u64(key.MarketID), key.Owner[:], int16(key.Outcome), u64(amount))
	if err != nil {
		return fmt.Errorf("postgres: put bet %d/%s/%d: %w", key.MarketID, key.Owner, key.Outcome, err)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *model.Entry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, kind, market_id, owner, outcome, amount, timestamp)
		 VALUES ($1::UUID, $2, $3::NUMERIC, $4, $5, $6::NUMERIC, $7)`,
		e.ID, string(e.Kind), u64(e.MarketID), e.Owner[:], int16(e.Outcome), u64(e.Amount), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append entry %s: %w", e.ID, err)
	}
	return nil
}

// --- helpers ---

func getMarket(ctx context.Context, q querier, id uint64, forUpdate bool) (*model.Market, error) {
	query := `SELECT id::TEXT, title, judge, end_time::TEXT, total_pool::TEXT,
	                 winning_outcome, resolved
	          FROM markets WHERE id = $1::NUMERIC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, query, u64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

func getBet(ctx context.Context, q querier, key model.BetKey) (uint64, error) {
	var s string
	err := q.QueryRow(ctx,
		`SELECT amount::TEXT FROM bets
		 WHERE market_id = $1::NUMERIC AND owner = $2 AND outcome = $3`,
		u64(key.MarketID), key.Owner[:], int16(key.Outcome)).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get bet %d/%s/%d: %w", key.MarketID, key.Owner, key.Outcome, err)
	}
	return parseU64(s)
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var idS, endS, poolS string
	var judge []byte
	var winning int16

	if err := row.Scan(&idS, &m.Title, &judge, &endS, &poolS, &winning, &m.Resolved); err != nil {
		return nil, err
	}

	var err error
	if m.ID, err = parseU64(idS); err != nil {
		return nil, err
	}
	if m.EndTime, err = parseU64(endS); err != nil {
		return nil, err
	}
	if m.TotalPool, err = parseU64(poolS); err != nil {
		return nil, err
	}
	copy(m.Judge[:], judge)
	m.WinningOutcome = model.Outcome(winning)
	return &m, nil
}

func scanEntries(rows pgx.Rows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var kind, marketS, amountS string
		var owner []byte
		var outcome int16

		if err := rows.Scan(&e.ID, &kind, &marketS, &owner, &outcome, &amountS, &e.Timestamp); err != nil {
			return nil, err
		}

		var err error
		if e.MarketID, err = parseU64(marketS); err != nil {
			return nil, err
		}
		if e.Amount, err = parseU64(amountS); err != nil {
			return nil, err
		}
		e.Kind = model.EntryKind(kind)
		e.Outcome = model.Outcome(outcome)
		copy(e.Owner[:], owner)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: numeric %q out of uint64 range: %w", s, err)
	}
	return v, nil
}
