package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS swaps (
	pool_address   TEXT    NOT NULL,
	record_key     TEXT    NOT NULL,
	seq            BIGINT  NOT NULL,
	user_address   TEXT    NOT NULL,
	token_give     TEXT    NOT NULL,
	amount_give    NUMERIC NOT NULL,
	token_get      TEXT    NOT NULL,
	amount_get     NUMERIC NOT NULL,
	token1_balance NUMERIC NOT NULL,
	token2_balance NUMERIC NOT NULL,
	ts             BIGINT  NOT NULL,
	chain_id       BIGINT,
	block_number   BIGINT,
	tx_hash        TEXT,
	log_index      BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, record_key)
);
CREATE INDEX IF NOT EXISTS swaps_pool_ts ON swaps (pool_address, ts);

CREATE TABLE IF NOT EXISTS price_windows (
	pool_address        TEXT        NOT NULL,
	window_size_seconds BIGINT      NOT NULL,
	window_start_ts     TIMESTAMPTZ NOT NULL,
	window_end_ts       TIMESTAMPTZ NOT NULL,
	swap_count          BIGINT      NOT NULL,
	open_rate           NUMERIC     NOT NULL,
	high_rate           NUMERIC     NOT NULL,
	low_rate            NUMERIC     NOT NULL,
	close_rate          NUMERIC     NOT NULL,
	volume1             NUMERIC     NOT NULL,
	volume2             NUMERIC     NOT NULL,
	token1_balance      NUMERIC     NOT NULL,
	token2_balance      NUMERIC     NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, window_size_seconds, window_start_ts)
);

CREATE TABLE IF NOT EXISTS sync_state (
	name              TEXT   PRIMARY KEY,
	last_processed_ts BIGINT NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for swap history and charts.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSwaps writes swap records for a pool. Records already stored under
// the same key are left untouched, so replays are idempotent.
func (s *Store) InsertSwaps(ctx context.Context, pool common.Address, records []model.SwapRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		var chainID, blockNumber, logIndex *int64
		var txHash *string
		if r.Source != nil {
			c, b, l := int64(r.Source.ChainID), int64(r.Source.BlockNumber), int64(r.Source.LogIndex)
			h := r.Source.TxHash
			chainID, blockNumber, logIndex, txHash = &c, &b, &l, &h
		}
		batch.Queue(`
			INSERT INTO swaps (
				pool_address, record_key, seq, user_address, token_give, amount_give, token_get, amount_get,
				token1_balance, token2_balance, ts, chain_id, block_number, tx_hash, log_index
			) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12,$13,$14,$15)
			ON CONFLICT (pool_address, record_key) DO NOTHING
		`,
			pool.Hex(),
			r.Key(),
			int64(r.Seq),
			r.User.Hex(),
			r.TokenGive.Hex(),
			fixedpoint.Units(r.AmountGive),
			r.TokenGet.Hex(),
			fixedpoint.Units(r.AmountGet),
			fixedpoint.Units(r.Token1Balance),
			fixedpoint.Units(r.Token2Balance),
			int64(r.Timestamp),
			chainID,
			blockNumber,
			txHash,
			logIndex,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert swap: %w", err)
		}
	}
	return nil
}

// QuerySwaps returns a pool's records with fromTime <= ts <= toTime, oldest
// first. toTime == 0 means no upper bound.
func (s *Store) QuerySwaps(ctx context.Context, pool common.Address, fromTime, toTime uint64) ([]model.SwapRecord, error) {
	upper := int64(-1)
	if toTime != 0 {
		upper = int64(toTime)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, user_address, token_give, amount_give::text, token_get, amount_get::text,
			token1_balance::text, token2_balance::text, ts, chain_id, block_number, tx_hash, log_index
		FROM swaps
		WHERE pool_address = $1 AND ts >= $2::bigint AND ($3::bigint < 0 OR ts <= $3::bigint)
		ORDER BY ts, block_number NULLS FIRST, log_index NULLS FIRST, seq
	`, pool.Hex(), int64(fromTime), upper)
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	defer rows.Close()

	var out []model.SwapRecord
	for rows.Next() {
		var (
			seq, ts                        int64
			user, give, get                string
			amountGive, amountGet, b1, b2  string
			chainID, blockNumber, logIndex *int64
			txHash                         *string
		)
		if err := rows.Scan(&seq, &user, &give, &amountGive, &get, &amountGet, &b1, &b2, &ts,
			&chainID, &blockNumber, &txHash, &logIndex); err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		parsed, err := parseAmounts(amountGive, amountGet, b1, b2)
		if err != nil {
			return nil, err
		}
		rec := model.SwapRecord{
			Seq:           uint64(seq),
			User:          common.HexToAddress(user),
			TokenGive:     common.HexToAddress(give),
			AmountGive:    parsed[0],
			TokenGet:      common.HexToAddress(get),
			AmountGet:     parsed[1],
			Token1Balance: parsed[2],
			Token2Balance: parsed[3],
			Timestamp:     uint64(ts),
		}
		if blockNumber != nil && txHash != nil && logIndex != nil {
			rec.Source = &model.ChainRef{
				BlockNumber: uint64(*blockNumber),
				TxHash:      *txHash,
				LogIndex:    uint64(*logIndex),
			}
			if chainID != nil {
				rec.Source.ChainID = uint64(*chainID)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return out, nil
}

// SwapSink binds the store to one pool so it can serve as a storage.Sink and
// as the chart aggregator's swap source.
func (s *Store) SwapSink(pool common.Address) *SwapSink {
	return &SwapSink{store: s, pool: pool}
}

type SwapSink struct {
	store *Store
	pool  common.Address
}

func (s *SwapSink) PutSwapBatch(ctx context.Context, records []model.SwapRecord) error {
	return s.store.InsertSwaps(ctx, s.pool, records)
}

func (s *SwapSink) ReadSwaps(ctx context.Context, fromTime, toTime uint64) ([]model.SwapRecord, error) {
	return s.store.QuerySwaps(ctx, s.pool, fromTime, toTime)
}

// PutWindows upserts windows, so a recomputed window replaces the stored one.
func (s *Store) PutWindows(ctx context.Context, windows []model.PriceWindow) error {
	return s.UpsertPriceWindows(ctx, windows)
}

// UpsertPriceWindows inserts or updates aggregated windows.
func (s *Store) UpsertPriceWindows(ctx context.Context, windows []model.PriceWindow) error {
	if len(windows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, w := range windows {
		batch.Queue(`
			INSERT INTO price_windows (
				pool_address, window_size_seconds, window_start_ts, window_end_ts, swap_count,
				open_rate, high_rate, low_rate, close_rate, volume1, volume2,
				token1_balance, token2_balance, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10::numeric,$11::numeric,$12::numeric,$13::numeric,now(),now())
			ON CONFLICT (pool_address, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				open_rate = EXCLUDED.open_rate,
				high_rate = EXCLUDED.high_rate,
				low_rate = EXCLUDED.low_rate,
				close_rate = EXCLUDED.close_rate,
				volume1 = EXCLUDED.volume1,
				volume2 = EXCLUDED.volume2,
				token1_balance = EXCLUDED.token1_balance,
				token2_balance = EXCLUDED.token2_balance,
				updated_at = now()
		`,
			w.PoolAddress,
			w.WindowSizeSecs,
			w.WindowStart,
			w.WindowEnd,
			int64(w.SwapCount),
			w.Open,
			w.High,
			w.Low,
			w.Close,
			w.Volume1,
			w.Volume2,
			w.Token1Balance,
			w.Token2Balance,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range windows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert price window: %w", err)
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM sync_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}

// StateRow binds one sync_state name so it can track a job's progress,
// such as the chart aggregator's last final timestamp.
type StateRow struct {
	store *Store
	name  string
}

func (s *Store) StateRow(name string) *StateRow {
	return &StateRow{store: s, name: name}
}

func (r *StateRow) Load(ctx context.Context) (uint64, bool, error) {
	return r.store.LoadState(ctx, r.name)
}

func (r *StateRow) Save(ctx context.Context, ts uint64) error {
	return r.store.SaveState(ctx, r.name, ts)
}

func parseAmounts(values ...string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, 0, len(values))
	for _, v := range values {
		parsed, err := fixedpoint.ParseUnits(v)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount: %w", err)
		}
		out = append(out, parsed)
	}
	return out, nil
}
