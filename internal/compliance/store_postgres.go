package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
)

// PostgresStore persists instruments in the instruments table. Compound
// operations run inside a transaction with the row locked FOR UPDATE so the
// guard/validate step and the write are atomic.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const instrumentColumns = `
	id, issuer, face_value, coupon_rate_bps, class, other_terms,
	issuer_label, mode, trading_start, maturity, data_complete, approved,
	created_at, updated_at`

func scanInstrument(row interface{ Scan(...any) error }) (*Instrument, error) {
	var (
		inst          Instrument
		issuer        string
		faceValue     int64
		couponRateBps int64
		tradingStart  sql.NullTime
		maturity      sql.NullTime
	)
	err := row.Scan(&inst.ID, &issuer, &faceValue, &couponRateBps, &inst.Class,
		&inst.OtherTerms, &inst.IssuerLabel, &inst.Mode, &tradingStart, &maturity,
		&inst.DataComplete, &inst.Approved, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan instrument: %w", err)
	}
	inst.Issuer = domain.Address(issuer)
	inst.FaceValue = uint64(faceValue)
	inst.CouponRateBps = uint64(couponRateBps)
	if tradingStart.Valid {
		inst.TradingStart = tradingStart.Time
	}
	if maturity.Valid {
		inst.Maturity = maturity.Time
	}
	return &inst, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *PostgresStore) Save(ctx context.Context, inst *Instrument, guard func(existing *Instrument) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save instrument: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT`+instrumentColumns+` FROM instruments WHERE id = $1 FOR UPDATE`, int64(inst.ID))
	existing, err := scanInstrument(row)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instruments (
			id, issuer, face_value, coupon_rate_bps, class, other_terms,
			issuer_label, mode, trading_start, maturity, data_complete, approved,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			issuer = EXCLUDED.issuer,
			face_value = EXCLUDED.face_value,
			coupon_rate_bps = EXCLUDED.coupon_rate_bps,
			class = EXCLUDED.class,
			other_terms = EXCLUDED.other_terms,
			issuer_label = EXCLUDED.issuer_label,
			mode = EXCLUDED.mode,
			trading_start = EXCLUDED.trading_start,
			maturity = EXCLUDED.maturity,
			data_complete = EXCLUDED.data_complete,
			approved = EXCLUDED.approved,
			updated_at = EXCLUDED.updated_at`,
		int64(inst.ID), inst.Issuer.String(), int64(inst.FaceValue), int64(inst.CouponRateBps),
		inst.Class, inst.OtherTerms, inst.IssuerLabel, inst.Mode,
		nullTime(inst.TradingStart), nullTime(inst.Maturity),
		inst.DataComplete, inst.Approved, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert instrument: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.InstrumentID) (*Instrument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+instrumentColumns+` FROM instruments WHERE id = $1`, int64(id))
	return scanInstrument(row)
}

func (s *PostgresStore) Execute(ctx context.Context, id domain.InstrumentID,
	validate func(*Instrument) error, mutate func(*Instrument)) (*Instrument, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execute instrument: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT`+instrumentColumns+` FROM instruments WHERE id = $1 FOR UPDATE`, int64(id))
	inst, err := scanInstrument(row)
	if err != nil {
		return nil, err
	}
	if err := validate(inst); err != nil {
		return nil, err
	}
	mutate(inst)

	_, err = tx.ExecContext(ctx, `
		UPDATE instruments SET
			issuer = $2, face_value = $3, coupon_rate_bps = $4, class = $5,
			other_terms = $6, issuer_label = $7, mode = $8, trading_start = $9,
			maturity = $10, data_complete = $11, approved = $12, updated_at = $13
		WHERE id = $1`,
		int64(inst.ID), inst.Issuer.String(), int64(inst.FaceValue), int64(inst.CouponRateBps),
		inst.Class, inst.OtherTerms, inst.IssuerLabel, inst.Mode,
		nullTime(inst.TradingStart), nullTime(inst.Maturity),
		inst.DataComplete, inst.Approved, inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update instrument: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execute instrument: %w", err)
	}
	return inst, nil
}
