// Package pgstore provides a PostgreSQL implementation of triage.Store.
// The idempotency and route-cache lookups are single SELECTs, so they are
// atomic against durable storage and safe across worker processes.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/caseflow/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const resultColumns = `id, case_number, workflow_id, assignment_group, classification,
	tokens_in, tokens_out, cost_usd, processing_ms, ticket_updated, created_at`

// RecordPayload appends a ledger row for an inbound delivery.
func (s *Store) RecordPayload(ctx context.Context, p *triage.InboundPayload) error {
	ctx, span := tracer.Start(ctx, "pgstore.RecordPayload", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO inbound_payloads (id, case_number, case_sys_id, assignment_group, category, priority, state, received_at, processed, processing_error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.CaseNumber, p.CaseSysID, p.AssignmentGroup, p.Category, p.Priority, p.State,
		p.ReceivedAt, p.Processed, nullable(p.ProcessingError),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert payload: %w", err)
	}
	return nil
}

// MarkPayload marks a ledger row processed, or failed with procErr.
func (s *Store) MarkPayload(ctx context.Context, id string, procErr string) error {
	ctx, span := tracer.Start(ctx, "pgstore.MarkPayload", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE inbound_payloads SET processed = $2, processing_error = $3 WHERE id = $1`,
		id, procErr == "", nullable(procErr),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark payload: %w", err)
	}
	return nil
}

// LatestCompleted returns the newest result for the case created at or
// after since.
//
//nolint:dupl // similar structure to LatestForRoute is intentional
func (s *Store) LatestCompleted(ctx context.Context, caseNumber string, since time.Time) (*triage.ClassificationResult, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LatestCompleted", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + resultColumns + ` FROM classification_results
		WHERE case_number = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`
	r, err := scanResultRow(s.pool.QueryRow(ctx, query, caseNumber, since))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// LatestForRoute returns the newest result for the exact route triple.
//
//nolint:dupl // similar structure to LatestCompleted is intentional
func (s *Store) LatestForRoute(ctx context.Context, caseNumber, workflowID, assignmentGroup string) (*triage.ClassificationResult, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LatestForRoute", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + resultColumns + ` FROM classification_results
		WHERE case_number = $1 AND workflow_id = $2 AND assignment_group = $3
		ORDER BY created_at DESC LIMIT 1`
	r, err := scanResultRow(s.pool.QueryRow(ctx, query, caseNumber, workflowID, assignmentGroup))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// PutResult appends an immutable classification result.
func (s *Store) PutResult(ctx context.Context, r *triage.ClassificationResult) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutResult", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	clJSON, err := json.Marshal(r.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO classification_results (`+resultColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.CaseNumber, r.WorkflowID, r.AssignmentGroup, clJSON,
		r.TokensIn, r.TokensOut, r.Cost, r.ProcessingTimeMs, r.TicketUpdated, r.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// PutEntities replaces the stored entity set for a case.
func (s *Store) PutEntities(ctx context.Context, caseNumber string, ents []triage.DiscoveredEntity) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutEntities", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM discovered_entities WHERE case_number = $1`, caseNumber); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}

	for _, e := range ents {
		srcJSON, err := json.Marshal(e.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO discovered_entities (case_number, case_sys_id, entity_type, entity_value, confidence, sources, status, ci_sys_id, discovered_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			caseNumber, e.CaseSysID, string(e.Type), e.Value, e.Confidence, srcJSON,
			string(e.Status), nullable(e.CISysID), e.DiscoveredAt,
		)
		if err != nil {
			return fmt.Errorf("insert entity %s/%s: %w", e.Type, e.Value, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// EntitiesForCase returns the stored entities for a case.
func (s *Store) EntitiesForCase(ctx context.Context, caseNumber string) ([]triage.DiscoveredEntity, error) {
	ctx, span := tracer.Start(ctx, "pgstore.EntitiesForCase", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT case_sys_id, entity_type, entity_value, confidence, sources, status, ci_sys_id, discovered_at
		 FROM discovered_entities WHERE case_number = $1 ORDER BY entity_type, entity_value`,
		caseNumber,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []triage.DiscoveredEntity
	for rows.Next() {
		var (
			e       triage.DiscoveredEntity
			typ     string
			status  string
			srcJSON []byte
			ciSysID *string
		)
		if err := rows.Scan(&e.CaseSysID, &typ, &e.Value, &e.Confidence, &srcJSON, &status, &ciSysID, &e.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.CaseNumber = caseNumber
		e.Type = triage.EntityType(typ)
		e.Status = triage.EntityStatus(status)
		if ciSysID != nil {
			e.CISysID = *ciSysID
		}
		if err := json.Unmarshal(srcJSON, &e.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// scanResultRow scans a single row into a ClassificationResult.
// Returns (nil, nil) when no row is found.
func scanResultRow(row pgx.Row) (*triage.ClassificationResult, error) {
	var (
		r      triage.ClassificationResult
		clJSON []byte
	)
	err := row.Scan(
		&r.ID, &r.CaseNumber, &r.WorkflowID, &r.AssignmentGroup, &clJSON,
		&r.TokensIn, &r.TokensOut, &r.Cost, &r.ProcessingTimeMs, &r.TicketUpdated, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := json.Unmarshal(clJSON, &r.Classification); err != nil {
		return nil, fmt.Errorf("unmarshal classification: %w", err)
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
