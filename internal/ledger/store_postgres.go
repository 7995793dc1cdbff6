package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bondledger/pkg/domain"
	"bondledger/pkg/platform/sentinel"
	"bondledger/pkg/requestcontext"
)

// PostgresStore persists holdings, supply, the regulatory request log, and
// redemption records. Compound operations run in a transaction with the
// touched rows locked FOR UPDATE; settlement callbacks run inside the
// transaction so a failed settlement rolls everything back.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Balance(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	var units int64
	err := s.db.QueryRowContext(ctx,
		`SELECT units FROM holdings WHERE instrument_id = $1 AND holder = $2`,
		int64(instrumentID), holder.String()).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return uint64(units), nil
}

func (s *PostgresStore) Supply(ctx context.Context, instrumentID domain.InstrumentID) (Supply, error) {
	var minted, redeemed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT minted, redeemed FROM ledger_supply WHERE instrument_id = $1`,
		int64(instrumentID)).Scan(&minted, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return Supply{}, nil
	}
	if err != nil {
		return Supply{}, fmt.Errorf("query supply: %w", err)
	}
	return Supply{Minted: uint64(minted), Redeemed: uint64(redeemed)}, nil
}

func (s *PostgresStore) Mint(ctx context.Context, instrumentID domain.InstrumentID, to domain.Address, units uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mint: %w", err)
	}
	defer tx.Rollback()

	if err := credit(ctx, tx, instrumentID, to, units); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_supply (instrument_id, minted) VALUES ($1, $2)
		ON CONFLICT (instrument_id) DO UPDATE SET minted = ledger_supply.minted + EXCLUDED.minted`,
		int64(instrumentID), int64(units))
	if err != nil {
		return fmt.Errorf("grow minted supply: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Move(ctx context.Context, instrumentID domain.InstrumentID, from, to domain.Address, units uint64, settle func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	defer tx.Rollback()

	if err := debitLocked(ctx, tx, instrumentID, from, units, settle); err != nil {
		return err
	}
	if err := credit(ctx, tx, instrumentID, to, units); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Retire(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address, payout func(units uint64) error) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin retire: %w", err)
	}
	defer tx.Rollback()

	units, err := lockedBalance(ctx, tx, instrumentID, holder)
	if err != nil {
		return 0, err
	}
	if units == 0 {
		return 0, nil
	}
	if payout != nil {
		if err := payout(units); err != nil {
			return 0, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE holdings SET units = 0 WHERE instrument_id = $1 AND holder = $2`,
		int64(instrumentID), holder.String())
	if err != nil {
		return 0, fmt.Errorf("zero holding: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO redemptions (instrument_id, holder, units) VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, holder) DO UPDATE SET units = redemptions.units + EXCLUDED.units`,
		int64(instrumentID), holder.String(), int64(units))
	if err != nil {
		return 0, fmt.Errorf("record redemption: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_supply (instrument_id, redeemed) VALUES ($1, $2)
		ON CONFLICT (instrument_id) DO UPDATE SET redeemed = ledger_supply.redeemed + EXCLUDED.redeemed`,
		int64(instrumentID), int64(units))
	if err != nil {
		return 0, fmt.Errorf("grow redeemed supply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit retire: %w", err)
	}
	return units, nil
}

func (s *PostgresStore) AppendRequest(ctx context.Context, req *RegulatoryRequest) (*RegulatoryRequest, error) {
	stored := *req
	stored.Executed = false
	stored.ExecutedAt = nil

	var seqID int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO regulatory_requests (instrument_id, investor, target, amount, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq_id`,
		int64(stored.InstrumentID), stored.Investor.String(), stored.Target.String(),
		int64(stored.Amount), stored.RequestedAt).Scan(&seqID)
	if err != nil {
		return nil, fmt.Errorf("append regulatory request: %w", err)
	}
	stored.SeqID = uint64(seqID)
	return &stored, nil
}

const requestColumns = `seq_id, instrument_id, investor, target, amount, executed, requested_at, executed_at`

func scanRequest(row interface{ Scan(...any) error }) (*RegulatoryRequest, error) {
	var (
		req        RegulatoryRequest
		seqID      int64
		investor   string
		target     string
		amount     int64
		executedAt sql.NullTime
	)
	err := row.Scan(&seqID, &req.InstrumentID, &investor, &target, &amount,
		&req.Executed, &req.RequestedAt, &executedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan regulatory request: %w", err)
	}
	req.SeqID = uint64(seqID)
	req.Investor = domain.Address(investor)
	req.Target = domain.Address(target)
	req.Amount = uint64(amount)
	if executedAt.Valid {
		t := executedAt.Time
		req.ExecutedAt = &t
	}
	return &req, nil
}

func (s *PostgresStore) FindRequest(ctx context.Context, seqID uint64) (*RegulatoryRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM regulatory_requests WHERE seq_id = $1`, int64(seqID))
	return scanRequest(row)
}

func (s *PostgresStore) ExecuteRequest(ctx context.Context, seqID uint64) (*RegulatoryRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execute request: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM regulatory_requests WHERE seq_id = $1 FOR UPDATE`, int64(seqID))
	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if req.Executed {
		return nil, sentinel.ErrAlreadyUsed
	}

	if err := debitLocked(ctx, tx, req.InstrumentID, req.Investor, req.Amount, nil); err != nil {
		return nil, err
	}
	if err := credit(ctx, tx, req.InstrumentID, req.Target, req.Amount); err != nil {
		return nil, err
	}

	executedAt := requestcontext.Now(ctx)
	_, err = tx.ExecContext(ctx,
		`UPDATE regulatory_requests SET executed = TRUE, executed_at = $2 WHERE seq_id = $1`,
		int64(seqID), executedAt)
	if err != nil {
		return nil, fmt.Errorf("mark request executed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execute request: %w", err)
	}

	req.Executed = true
	req.ExecutedAt = &executedAt
	return req, nil
}

func (s *PostgresStore) Redeemed(ctx context.Context, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	var units int64
	err := s.db.QueryRowContext(ctx,
		`SELECT units FROM redemptions WHERE instrument_id = $1 AND holder = $2`,
		int64(instrumentID), holder.String()).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query redeemed: %w", err)
	}
	return uint64(units), nil
}

// lockedBalance reads the holder's row FOR UPDATE sharing the caller's
// transaction. A missing row reads as zero without taking a lock, which is
// safe because a row is inserted before any balance can become nonzero.
func lockedBalance(ctx context.Context, tx *sql.Tx, instrumentID domain.InstrumentID, holder domain.Address) (uint64, error) {
	var units int64
	err := tx.QueryRowContext(ctx,
		`SELECT units FROM holdings WHERE instrument_id = $1 AND holder = $2 FOR UPDATE`,
		int64(instrumentID), holder.String()).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock holding: %w", err)
	}
	return uint64(units), nil
}

// debitLocked checks sufficiency under lock, runs settle, then debits.
func debitLocked(ctx context.Context, tx *sql.Tx, instrumentID domain.InstrumentID, from domain.Address, units uint64, settle func() error) error {
	balance, err := lockedBalance(ctx, tx, instrumentID, from)
	if err != nil {
		return err
	}
	if balance < units {
		return sentinel.ErrInsufficient
	}
	if settle != nil {
		if err := settle(); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE holdings SET units = units - $3 WHERE instrument_id = $1 AND holder = $2`,
		int64(instrumentID), from.String(), int64(units))
	if err != nil {
		return fmt.Errorf("debit holding: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx *sql.Tx, instrumentID domain.InstrumentID, to domain.Address, units uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO holdings (instrument_id, holder, units) VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, holder) DO UPDATE SET units = holdings.units + EXCLUDED.units`,
		int64(instrumentID), to.String(), int64(units))
	if err != nil {
		return fmt.Errorf("credit holding: %w", err)
	}
	return nil
}
