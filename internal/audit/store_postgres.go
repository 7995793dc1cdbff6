package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"bondledger/pkg/domain"
)

// PostgresStore persists events to the ledger_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	var instrumentID *int64
	if event.InstrumentID != 0 {
		v := int64(event.InstrumentID)
		instrumentID = &v
	}
	var seqID *int64
	if event.SeqID != nil {
		v := int64(*event.SeqID)
		seqID = &v
	}

	query := `
		INSERT INTO ledger_events (
			id, action, instrument_id, actor, source, target,
			amount, seq_id, request_id, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Action),
		instrumentID,
		event.Actor.String(),
		event.Source.String(),
		event.Target.String(),
		int64(event.Amount),
		seqID,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByInstrument(ctx context.Context, instrumentID domain.InstrumentID) ([]Event, error) {
	query := `
		SELECT id, action, COALESCE(instrument_id, 0), actor, source, target,
		       amount, seq_id, request_id, occurred_at
		FROM ledger_events
		WHERE instrument_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, int64(instrumentID))
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			instID int64
			amount int64
			seqID  sql.NullInt64
			action string
			actor  string
			source string
			target string
		)
		if err := rows.Scan(&e.ID, &action, &instID, &actor, &source, &target,
			&amount, &seqID, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.Action = Action(action)
		e.InstrumentID = domain.InstrumentID(instID)
		e.Actor = domain.Address(actor)
		e.Source = domain.Address(source)
		e.Target = domain.Address(target)
		e.Amount = uint64(amount)
		if seqID.Valid {
			v := uint64(seqID.Int64)
			e.SeqID = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
