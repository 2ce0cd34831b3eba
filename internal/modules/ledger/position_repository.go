package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/stockwatch/internal/domain"
)

// PositionRepository handles position database operations against
// portfolio.db. The P/L series is stored as a msgpack blob; scalar columns
// are denormalized for list queries.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

const positionColumns = `id, symbol, buy_date, buy_price, buy_qty, currency, series,
	current_price, holding_value, close_price, close_date, date_updated`

// storedPoint is the msgpack shape of one series entry. Dates are unix
// seconds at midnight UTC so the blob stays compact and timezone-free.
type storedPoint struct {
	Date int64   `msgpack:"d"`
	PL   float64 `msgpack:"p"`
}

// GetByID returns a position, or domain.ErrPositionNotFound.
func (r *PositionRepository) GetByID(id string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error reading position: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id)
	}

	pos, err := r.scanPosition(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	return &pos, nil
}

// GetAll returns every position, open and closed, ordered by buy date.
func (r *PositionRepository) GetAll() ([]domain.Position, error) {
	return r.list(`SELECT ` + positionColumns + ` FROM positions ORDER BY buy_date, id`)
}

// ListOpen returns open positions ordered by buy date.
func (r *PositionRepository) ListOpen() ([]domain.Position, error) {
	return r.list(`SELECT ` + positionColumns + ` FROM positions
		WHERE close_date IS NULL ORDER BY buy_date, id`)
}

// ListClosed returns closed positions ordered by close date.
func (r *PositionRepository) ListClosed() ([]domain.Position, error) {
	return r.list(`SELECT ` + positionColumns + ` FROM positions
		WHERE close_date IS NOT NULL ORDER BY close_date, id`)
}

func (r *PositionRepository) list(query string) ([]domain.Position, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// Upsert inserts or updates a position inside a transaction. Writes are
// atomic per record; last writer wins.
func (r *PositionRepository) Upsert(position domain.Position) error {
	if position.ID == "" {
		return fmt.Errorf("position ID is required for upsert")
	}
	position.Symbol = strings.ToUpper(strings.TrimSpace(position.Symbol))

	seriesBlob, err := encodeSeries(position.Series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	var closeDate sql.NullInt64
	if position.CloseDate != nil {
		closeDate = sql.NullInt64{Int64: domain.Day(*position.CloseDate).Unix(), Valid: true}
	}

	dateUpdated := position.DateUpdated
	if dateUpdated.IsZero() {
		dateUpdated = time.Now().UTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT OR REPLACE INTO positions
		(id, symbol, buy_date, buy_price, buy_qty, currency, series,
		 current_price, holding_value, close_price, close_date, date_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		position.ID,
		position.Symbol,
		domain.Day(position.BuyDate).Unix(),
		position.BuyPrice,
		position.BuyQty,
		string(position.Currency),
		seriesBlob,
		nullFloat64Ptr(position.CurrentPrice),
		nullFloat64Ptr(position.HoldingValue),
		nullFloat64Ptr(position.ClosePrice),
		closeDate,
		dateUpdated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("id", position.ID).
		Str("symbol", position.Symbol).
		Int("series_len", len(position.Series)).
		Msg("Position upserted")
	return nil
}

// Delete removes a position. Deletion is a surrounding-system concern; the
// ledger core never calls this itself.
func (r *PositionRepository) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec("DELETE FROM positions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id)
	}

	r.log.Info().Str("id", id).Msg("Position deleted")
	return nil
}

func (r *PositionRepository) scanPosition(rows *sql.Rows) (domain.Position, error) {
	var pos domain.Position
	var buyDateUnix, dateUpdatedUnix int64
	var currency string
	var seriesBlob []byte
	var currentPrice, holdingValue, closePrice sql.NullFloat64
	var closeDateUnix sql.NullInt64

	err := rows.Scan(
		&pos.ID,
		&pos.Symbol,
		&buyDateUnix,
		&pos.BuyPrice,
		&pos.BuyQty,
		&currency,
		&seriesBlob,
		&currentPrice,
		&holdingValue,
		&closePrice,
		&closeDateUnix,
		&dateUpdatedUnix,
	)
	if err != nil {
		return pos, err
	}

	pos.BuyDate = time.Unix(buyDateUnix, 0).UTC()
	pos.Currency = domain.Currency(currency)
	pos.DateUpdated = time.Unix(dateUpdatedUnix, 0).UTC()

	pos.Series, err = decodeSeries(seriesBlob)
	if err != nil {
		return pos, fmt.Errorf("failed to decode series for %s: %w", pos.ID, err)
	}

	if currentPrice.Valid {
		pos.CurrentPrice = &currentPrice.Float64
	}
	if holdingValue.Valid {
		pos.HoldingValue = &holdingValue.Float64
	}
	if closePrice.Valid {
		pos.ClosePrice = &closePrice.Float64
	}
	if closeDateUnix.Valid {
		d := time.Unix(closeDateUnix.Int64, 0).UTC()
		pos.CloseDate = &d
	}

	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))

	return pos, nil
}

func encodeSeries(pts []domain.SeriesPoint) ([]byte, error) {
	stored := make([]storedPoint, len(pts))
	for i, pt := range pts {
		stored[i] = storedPoint{Date: domain.Day(pt.Date).Unix(), PL: pt.PL}
	}
	return msgpack.Marshal(stored)
}

func decodeSeries(blob []byte) ([]domain.SeriesPoint, error) {
	var stored []storedPoint
	if err := msgpack.Unmarshal(blob, &stored); err != nil {
		return nil, err
	}
	pts := make([]domain.SeriesPoint, len(stored))
	for i, sp := range stored {
		pts[i] = domain.SeriesPoint{Date: time.Unix(sp.Date, 0).UTC(), PL: sp.PL}
	}
	return pts, nil
}

func nullFloat64Ptr(val *float64) sql.NullFloat64 {
	if val == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *val, Valid: true}
}
