package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/musoukun/policyScope/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

var requiredTables = []string{
	"parties",
	"party_summaries",
	"party_news",
	"runs",
	"run_events",
	"run_event_sequences",
	"run_stages",
	"llm_settings",
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range requiredTables {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run infra/migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.Run) error {
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = store.RunStatusPending
	}
	const query = `
		INSERT INTO runs (id, party_id, party_name, mode, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		run.ID,
		nullString(run.PartyID),
		run.PartyName,
		run.Mode,
		status,
		parseTimestampValue(run.CreatedAt),
		parseTimestampValue(run.UpdatedAt),
	)
	return err
}

const runColumns = `id, party_id, party_name, mode, status, failed_stage, failed_stage_id, reason, last_seq, created_at, updated_at`

func scanRun(scanner interface{ Scan(dest ...any) error }) (store.Run, error) {
	var (
		run           store.Run
		partyID       sql.NullString
		failedStageID sql.NullString
		reason        sql.NullString
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := scanner.Scan(
		&run.ID,
		&partyID,
		&run.PartyName,
		&run.Mode,
		&run.Status,
		&run.FailedStage,
		&failedStageID,
		&reason,
		&run.LastSeq,
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.Run{}, err
	}
	run.PartyID = partyID.String
	run.FailedStageID = failedStageID.String
	run.Reason = reason.String
	run.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	run.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return run, nil
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, nil
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(p.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context, partyID string) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE ($1 = '' OR party_id = $1) ORDER BY created_at DESC, id ASC`
	rows, err := p.db.QueryContext(ctx, query, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = run_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) (err error) {
	event.Type = store.NormalizeEventType(event.Type)
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	var traceIDValue any
	if traceID := strings.TrimSpace(event.TraceID); traceID != "" {
		if _, parseErr := uuid.Parse(traceID); parseErr == nil {
			traceIDValue = traceID
		}
	}
	const query = `
		INSERT INTO run_events (run_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, event.RunID, event.Seq, event.Type, parseTimestampValue(event.Timestamp), event.Source, traceIDValue, encoded); err != nil {
		return err
	}
	if stage, ok := store.BuildRunStageFromEvent(event); ok {
		if err = upsertRunStageTx(ctx, tx, stage); err != nil {
			return err
		}
	}
	if err = applyRunStateUpdateTx(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, type, timestamp, source, trace_id, payload
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RunEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.RunEvent
		if err := rows.Scan(&event.RunID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		event.TraceID = traceID.String
		event.Payload = map[string]any{}
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &event.Payload); err != nil {
				return nil, err
			}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ListRunStages(ctx context.Context, runID string) ([]store.RunStage, error) {
	const query = `
		SELECT run_id, stage_id, stage_index, name, status, seq, error, error_kind, diagnostics, started_at, completed_at
		FROM run_stages
		WHERE run_id = $1
		ORDER BY stage_index ASC, seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := []store.RunStage{}
	for rows.Next() {
		var (
			stage            store.RunStage
			stageErr         sql.NullString
			errorKind        sql.NullString
			diagnosticsBytes []byte
			startedAt        sql.NullTime
			completedAt      sql.NullTime
		)
		if err := rows.Scan(
			&stage.RunID,
			&stage.StageID,
			&stage.Index,
			&stage.Name,
			&stage.Status,
			&stage.Seq,
			&stageErr,
			&errorKind,
			&diagnosticsBytes,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		stage.Error = stageErr.String
		stage.ErrorKind = errorKind.String
		stage.Diagnostics = decodeJSONMap(diagnosticsBytes)
		if startedAt.Valid {
			stage.StartedAt = startedAt.Time.UTC().Format(time.RFC3339Nano)
		}
		if completedAt.Valid {
			stage.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339Nano)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stages, nil
}

func (p *PostgresStore) ListParties(ctx context.Context) ([]store.Party, error) {
	const query = `
		SELECT id, name, name_en, founded_year, description, created_at, updated_at
		FROM parties
		ORDER BY id ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	parties := []store.Party{}
	for rows.Next() {
		party, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, party)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parties, nil
}

func (p *PostgresStore) GetParty(ctx context.Context, partyID string) (*store.Party, error) {
	const query = `
		SELECT id, name, name_en, founded_year, description, created_at, updated_at
		FROM parties
		WHERE id = $1
	`
	party, err := scanParty(p.db.QueryRowContext(ctx, query, partyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &party, nil
}

func scanParty(scanner interface{ Scan(dest ...any) error }) (store.Party, error) {
	var (
		party       store.Party
		foundedYear sql.NullInt64
		description sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := scanner.Scan(&party.ID, &party.Name, &party.NameEn, &foundedYear, &description, &createdAt, &updatedAt); err != nil {
		return store.Party{}, err
	}
	party.FoundedYear = int(foundedYear.Int64)
	party.Description = description.String
	party.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	party.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return party, nil
}

func (p *PostgresStore) UpsertParty(ctx context.Context, party store.Party) error {
	if strings.TrimSpace(party.ID) == "" {
		return fmt.Errorf("party id required")
	}
	const query = `
		INSERT INTO parties (id, name, name_en, founded_year, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			name_en = EXCLUDED.name_en,
			founded_year = EXCLUDED.founded_year,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		party.ID,
		party.Name,
		party.NameEn,
		intOrNull(party.FoundedYear),
		nullString(party.Description),
		parseTimestampValue(party.CreatedAt),
		parseTimestampValue(party.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) UpsertPartySummary(ctx context.Context, summary store.PartySummary) error {
	if strings.TrimSpace(summary.PartyID) == "" {
		return fmt.Errorf("party id required")
	}
	var summaryData any
	if summary.SummaryData != nil {
		encoded, err := json.Marshal(summary.SummaryData)
		if err != nil {
			return err
		}
		summaryData = encoded
	}
	var runID any
	if _, err := uuid.Parse(summary.RunID); err == nil {
		runID = summary.RunID
	}
	const query = `
		INSERT INTO party_summaries (party_id, run_id, summary_data, html_content, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (party_id)
		DO UPDATE SET
			run_id = COALESCE(EXCLUDED.run_id, party_summaries.run_id),
			summary_data = COALESCE(EXCLUDED.summary_data, party_summaries.summary_data),
			html_content = COALESCE(EXCLUDED.html_content, party_summaries.html_content),
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		summary.PartyID,
		runID,
		summaryData,
		nullString(summary.HTMLContent),
		parseTimestampValue(summary.CreatedAt),
		parseTimestampValue(summary.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) GetPartySummary(ctx context.Context, partyID string) (*store.PartySummary, error) {
	const query = `
		SELECT party_id, run_id, summary_data, html_content, created_at, updated_at
		FROM party_summaries
		WHERE party_id = $1
	`
	var (
		summary     store.PartySummary
		runID       sql.NullString
		summaryData []byte
		htmlContent sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := p.db.QueryRowContext(ctx, query, partyID).Scan(
		&summary.PartyID,
		&runID,
		&summaryData,
		&htmlContent,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	summary.RunID = runID.String
	summary.HTMLContent = htmlContent.String
	if len(summaryData) > 0 {
		if err := json.Unmarshal(summaryData, &summary.SummaryData); err != nil {
			return nil, err
		}
	}
	summary.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	summary.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &summary, nil
}

func (p *PostgresStore) UpsertPartyNews(ctx context.Context, news store.PartyNews) error {
	if strings.TrimSpace(news.PartyID) == "" {
		return fmt.Errorf("party id required")
	}
	items := news.Items
	if items == nil {
		items = []store.PartyNewsItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO party_news (party_id, news_data, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (party_id)
		DO UPDATE SET
			news_data = EXCLUDED.news_data,
			updated_at = EXCLUDED.updated_at
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		news.PartyID,
		encoded,
		parseTimestampValue(news.CreatedAt),
		parseTimestampValue(news.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) GetPartyNews(ctx context.Context, partyID string) (*store.PartyNews, error) {
	const query = `
		SELECT party_id, news_data, created_at, updated_at
		FROM party_news
		WHERE party_id = $1
	`
	var (
		news      store.PartyNews
		raw       []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := p.db.QueryRowContext(ctx, query, partyID).Scan(&news.PartyID, &raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	news.Items = []store.PartyNewsItem{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &news.Items); err != nil {
			return nil, err
		}
	}
	news.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	news.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &news, nil
}

func (p *PostgresStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	const query = `
		SELECT mode, provider, model, base_url, api_key_enc, created_at, updated_at
		FROM llm_settings
		WHERE id = 1
	`
	var createdAt time.Time
	var updatedAt time.Time
	settings := store.LLMSettings{}
	if err := p.db.QueryRowContext(ctx, query).Scan(
		&settings.Mode,
		&settings.Provider,
		&settings.Model,
		&settings.BaseURL,
		&settings.APIKeyEnc,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	settings.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	settings.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &settings, nil
}

func (p *PostgresStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	const query = `
		INSERT INTO llm_settings
			(id, mode, provider, model, base_url, api_key_enc, created_at, updated_at)
		VALUES
			(1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			mode = EXCLUDED.mode,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			base_url = EXCLUDED.base_url,
			api_key_enc = EXCLUDED.api_key_enc,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		settings.Mode,
		settings.Provider,
		settings.Model,
		settings.BaseURL,
		settings.APIKeyEnc,
		parseTimestampValue(settings.CreatedAt),
		parseTimestampValue(settings.UpdatedAt),
	)
	return err
}

func upsertRunStageTx(ctx context.Context, tx *sql.Tx, stage store.RunStage) error {
	if strings.TrimSpace(stage.RunID) == "" || strings.TrimSpace(stage.StageID) == "" {
		return nil
	}
	if strings.TrimSpace(stage.Name) == "" {
		stage.Name = stage.StageID
	}
	diagnostics := stage.Diagnostics
	if diagnostics == nil {
		diagnostics = map[string]any{}
	}
	diagnosticsBytes, err := json.Marshal(diagnostics)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO run_stages (
			run_id,
			stage_id,
			stage_index,
			name,
			status,
			seq,
			error,
			error_kind,
			diagnostics,
			started_at,
			completed_at,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, NOW(), NOW())
		ON CONFLICT (run_id, stage_id)
		DO UPDATE SET
			stage_index = CASE WHEN run_stages.stage_index > 0 THEN run_stages.stage_index ELSE EXCLUDED.stage_index END,
			name = CASE WHEN run_stages.name = run_stages.stage_id THEN EXCLUDED.name ELSE run_stages.name END,
			status = EXCLUDED.status,
			seq = LEAST(NULLIF(run_stages.seq, 0), EXCLUDED.seq),
			error = COALESCE(EXCLUDED.error, run_stages.error),
			error_kind = COALESCE(EXCLUDED.error_kind, run_stages.error_kind),
			diagnostics = run_stages.diagnostics || EXCLUDED.diagnostics,
			started_at = COALESCE(run_stages.started_at, EXCLUDED.started_at),
			completed_at = COALESCE(EXCLUDED.completed_at, run_stages.completed_at),
			updated_at = NOW()
	`
	_, err = tx.ExecContext(
		ctx,
		query,
		stage.RunID,
		stage.StageID,
		stage.Index,
		stage.Name,
		stage.Status,
		stage.Seq,
		nullString(stage.Error),
		nullString(stage.ErrorKind),
		diagnosticsBytes,
		parseTimestampNull(stage.StartedAt),
		parseTimestampNull(stage.CompletedAt),
	)
	return err
}

func applyRunStateUpdateTx(ctx context.Context, tx *sql.Tx, event store.RunEvent) error {
	var status, reason, failedStageID string
	failedStage := 0
	switch event.Type {
	case store.EventRunStarted, store.EventStageStarted:
		status = store.RunStatusRunning
	case store.EventRunCompleted:
		status = store.RunStatusComplete
	case store.EventRunFailed:
		status = store.RunStatusFailed
		failedStage = readDiagInt(event.Payload, "failed_stage")
		failedStageID = readDiagString(event.Payload, "failed_stage_id")
		reason = readDiagString(event.Payload, "reason")
	case store.EventRunCancelled:
		status = store.RunStatusCancelled
		reason = readDiagString(event.Payload, "reason")
	}

	// Terminal states are never overwritten by a late running event.
	const query = `
		UPDATE runs
		SET
			status = CASE
				WHEN NULLIF($2, '') IS NULL THEN status
				WHEN $2 = 'running' AND status <> 'pending' THEN status
				ELSE $2
			END,
			failed_stage = CASE WHEN $3 > 0 THEN $3 ELSE failed_stage END,
			failed_stage_id = COALESCE($4, failed_stage_id),
			reason = COALESCE($5, reason),
			last_seq = GREATEST(last_seq, $6),
			updated_at = $7
		WHERE id = $1
	`
	_, err := tx.ExecContext(
		ctx,
		query,
		event.RunID,
		status,
		failedStage,
		nullString(failedStageID),
		nullString(reason),
		event.Seq,
		parseTimestampValue(event.Timestamp),
	)
	return err
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func parseTimestampNull(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func intOrNull(value int) any {
	if value <= 0 {
		return nil
	}
	return value
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func readDiagString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	text, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func readDiagInt(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch typed := payload[key].(type) {
	case float64:
		return int(typed)
	case int64:
		return int(typed)
	case int:
		return typed
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return int(parsed)
		}
	}
	return 0
}
