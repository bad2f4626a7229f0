package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scout/internal/core"
)

// postgresUserRepo implements UserRepository for PostgreSQL
type postgresUserRepo struct {
	db *sql.DB
}

func (r *postgresUserRepo) Get(ctx context.Context, id string) (*core.User, error) {
	query := `SELECT id, email, monthly_credit_limit, daily_credit_limit FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresUserRepo) GetPrimary(ctx context.Context) (*core.User, error) {
	query := `SELECT id, email, monthly_credit_limit, daily_credit_limit FROM users ORDER BY created_at ASC LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query))
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	var daily sql.NullFloat64
	if err := row.Scan(&u.ID, &u.Email, &u.MonthlyCreditLimit, &daily); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if daily.Valid {
		u.DailyCreditLimit = &daily.Float64
	}
	return &u, nil
}

// postgresTopicRepo implements TopicRepository for PostgreSQL
type postgresTopicRepo struct {
	db *sql.DB
}

func (r *postgresTopicRepo) Get(ctx context.Context, id string) (*core.Topic, error) {
	query := `SELECT id, user_id, name, query, decay_hours, schedule FROM topics WHERE id = $1`
	var t core.Topic
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.UserID, &t.Name, &t.Query, &t.DecayHours, &t.Schedule)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &t, nil
}

func (r *postgresTopicRepo) ListByUser(ctx context.Context, userID string) ([]core.Topic, error) {
	query := `SELECT id, user_id, name, query, decay_hours, schedule FROM topics WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []core.Topic
	for rows.Next() {
		var t core.Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Query, &t.DecayHours, &t.Schedule); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// postgresSourceRepo implements SourceRepository for PostgreSQL
type postgresSourceRepo struct {
	db *sql.DB
}

func (r *postgresSourceRepo) WeightsByTopic(ctx context.Context, topicID string) (map[string]float64, error) {
	query := `SELECT id, weight FROM sources WHERE topic_id = $1 AND enabled = TRUE`
	rows, err := r.db.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var id string
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, fmt.Errorf("failed to scan source weight: %w", err)
		}
		weights[id] = w
	}
	return weights, rows.Err()
}

// postgresCandidateRepo implements CandidateRepository for PostgreSQL
type postgresCandidateRepo struct {
	db *sql.DB
}

func (r *postgresCandidateRepo) ListWindowItems(ctx context.Context, topicID string, start, end time.Time) ([]WindowItem, error) {
	// Duplicates and soft-deleted items never become candidates; cluster
	// membership and the cluster's representative come back on every row.
	query := `
		SELECT
			ci.id,
			COALESCE(cm.cluster_id::text, ''),
			COALESCE(cl.representative_item_id::text, ''),
			ci.source_id,
			s.type,
			s.name,
			COALESCE(ci.title, ''),
			COALESCE(ci.body_text, ''),
			COALESCE(ci.canonical_url, ''),
			COALESCE(ci.author, ''),
			ci.published_at,
			ci.fetched_at,
			COALESCE(ci.engagement, 0),
			COALESCE(ci.embedding::text, '')
		FROM content_items ci
		JOIN sources s ON s.id = ci.source_id
		LEFT JOIN cluster_members cm ON cm.content_item_id = ci.id
		LEFT JOIN clusters cl ON cl.id = cm.cluster_id
		WHERE s.topic_id = $1
		  AND s.enabled = TRUE
		  AND ci.deleted_at IS NULL
		  AND ci.duplicate_of IS NULL
		  AND COALESCE(ci.published_at, ci.fetched_at) >= $2
		  AND COALESCE(ci.published_at, ci.fetched_at) < $3
	`
	rows, err := r.db.QueryContext(ctx, query, topicID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query window items: %w", err)
	}
	defer rows.Close()

	var items []WindowItem
	for rows.Next() {
		var it WindowItem
		var published sql.NullTime
		var vec string
		if err := rows.Scan(
			&it.ContentItemID, &it.ClusterID, &it.RepresentativeID,
			&it.SourceID, &it.SourceType, &it.SourceName,
			&it.Title, &it.BodyText, &it.CanonicalURL, &it.Author,
			&published, &it.FetchedAt, &it.Engagement, &vec,
		); err != nil {
			return nil, fmt.Errorf("failed to scan window item: %w", err)
		}
		if published.Valid {
			t := published.Time
			it.PublishedAt = &t
		}
		if it.Embedding, err = parseVector(vec); err != nil {
			return nil, fmt.Errorf("failed to parse item embedding: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *postgresCandidateRepo) RecentEmbeddings(ctx context.Context, topicID string, limit int) ([][]float64, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ci.embedding::text
		FROM content_items ci
		JOIN sources s ON s.id = ci.source_id
		WHERE s.topic_id = $1
		  AND ci.embedding IS NOT NULL
		  AND ci.deleted_at IS NULL
		ORDER BY COALESCE(ci.published_at, ci.fetched_at) DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		var vec string
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		parsed, err := parseVector(vec)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding: %w", err)
		}
		if parsed != nil {
			out = append(out, parsed)
		}
	}
	return out, rows.Err()
}

func (r *postgresCandidateRepo) ItemEmbedding(ctx context.Context, contentItemID string) ([]float64, error) {
	query := `SELECT COALESCE(embedding::text, '') FROM content_items WHERE id = $1`
	var vec string
	if err := r.db.QueryRowContext(ctx, query, contentItemID).Scan(&vec); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item embedding: %w", err)
	}
	return parseVector(vec)
}

// postgresDigestRepo implements DigestRepository for PostgreSQL
type postgresDigestRepo struct {
	db *sql.DB
}

const digestColumns = `id, user_id, topic_id, window_start, window_end, mode, status, item_count, cost_credits, error, created_at, completed_at`

func (r *postgresDigestRepo) Create(ctx context.Context, d *core.Digest) error {
	query := `
		INSERT INTO digests (id, user_id, topic_id, window_start, window_end, mode, status, item_count, cost_credits, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.UserID, d.TopicID, d.WindowStart, d.WindowEnd, d.Mode,
		d.Status, d.ItemCount, d.CostCredits, d.Error, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create digest: %w", err)
	}
	return nil
}

func (r *postgresDigestRepo) Get(ctx context.Context, id string) (*core.Digest, error) {
	query := `SELECT ` + digestColumns + ` FROM digests WHERE id = $1`
	return scanDigest(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresDigestRepo) FindByWindow(ctx context.Context, userID, topicID string, start, end time.Time, mode string) (*core.Digest, error) {
	query := `SELECT ` + digestColumns + ` FROM digests
		WHERE user_id = $1 AND topic_id = $2 AND window_start = $3 AND window_end = $4 AND mode = $5
		LIMIT 1`
	return scanDigest(r.db.QueryRowContext(ctx, query, userID, topicID, start, end, mode))
}

func (r *postgresDigestRepo) FindLatest(ctx context.Context, userID, topicID string) (*core.Digest, error) {
	query := `SELECT ` + digestColumns + ` FROM digests
		WHERE user_id = $1 AND topic_id = $2
		ORDER BY window_end DESC LIMIT 1`
	return scanDigest(r.db.QueryRowContext(ctx, query, userID, topicID))
}

func (r *postgresDigestRepo) UpdateStatus(ctx context.Context, id, status, errText string, completedAt time.Time) error {
	query := `UPDATE digests SET status = $2, error = $3, completed_at = $4 WHERE id = $1`
	var completed interface{}
	if !completedAt.IsZero() {
		completed = completedAt
	}
	if _, err := r.db.ExecContext(ctx, query, id, status, errText, completed); err != nil {
		return fmt.Errorf("failed to update digest status: %w", err)
	}
	return nil
}

func (r *postgresDigestRepo) Complete(ctx context.Context, d *core.Digest, items []core.DigestItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updateQuery := `UPDATE digests SET status = $2, item_count = $3, cost_credits = $4, error = $5, completed_at = $6 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery,
		d.ID, d.Status, d.ItemCount, d.CostCredits, d.Error, d.CompletedAt); err != nil {
		return fmt.Errorf("failed to finalize digest: %w", err)
	}

	insertQuery := `
		INSERT INTO digest_items (digest_id, rank, kind, candidate_id, content_item_id, title, canonical_url, final_score, triage, score_debug)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, item := range items {
		triageJSON, err := json.Marshal(item.Triage)
		if err != nil {
			return fmt.Errorf("failed to marshal triage result: %w", err)
		}
		debugJSON, err := json.Marshal(item.ScoreDebug)
		if err != nil {
			return fmt.Errorf("failed to marshal score debug: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			item.DigestID, item.Rank, string(item.Kind), item.CandidateID, item.ContentItemID,
			item.Title, item.CanonicalURL, item.FinalScore, triageJSON, debugJSON); err != nil {
			return fmt.Errorf("failed to insert digest item: %w", err)
		}
	}

	return tx.Commit()
}

func (r *postgresDigestRepo) ListItems(ctx context.Context, digestID string) ([]core.DigestItem, error) {
	query := `
		SELECT digest_id, rank, kind, candidate_id, content_item_id, title, canonical_url, final_score, triage, score_debug
		FROM digest_items WHERE digest_id = $1 ORDER BY rank ASC
	`
	rows, err := r.db.QueryContext(ctx, query, digestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest items: %w", err)
	}
	defer rows.Close()

	var items []core.DigestItem
	for rows.Next() {
		var item core.DigestItem
		var kind string
		var triageJSON, debugJSON []byte
		if err := rows.Scan(&item.DigestID, &item.Rank, &kind, &item.CandidateID,
			&item.ContentItemID, &item.Title, &item.CanonicalURL, &item.FinalScore,
			&triageJSON, &debugJSON); err != nil {
			return nil, fmt.Errorf("failed to scan digest item: %w", err)
		}
		item.Kind = core.CandidateKind(kind)
		if len(triageJSON) > 0 && string(triageJSON) != "null" {
			item.Triage = &core.TriageResult{}
			if err := json.Unmarshal(triageJSON, item.Triage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal triage result: %w", err)
			}
		}
		if err := json.Unmarshal(debugJSON, &item.ScoreDebug); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score debug: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *postgresDigestRepo) List(ctx context.Context, userID string, limit int) ([]core.Digest, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + digestColumns + ` FROM digests WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list digests: %w", err)
	}
	defer rows.Close()

	var digests []core.Digest
	for rows.Next() {
		d, err := scanDigestRow(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, *d)
	}
	return digests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDigestFields(s rowScanner) (*core.Digest, error) {
	var d core.Digest
	var completed sql.NullTime
	var errText sql.NullString
	if err := s.Scan(&d.ID, &d.UserID, &d.TopicID, &d.WindowStart, &d.WindowEnd,
		&d.Mode, &d.Status, &d.ItemCount, &d.CostCredits, &errText,
		&d.CreatedAt, &completed); err != nil {
		return nil, err
	}
	if errText.Valid {
		d.Error = errText.String
	}
	if completed.Valid {
		d.CompletedAt = completed.Time
	}
	return &d, nil
}

func scanDigest(row *sql.Row) (*core.Digest, error) {
	d, err := scanDigestFields(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan digest: %w", err)
	}
	return d, nil
}

func scanDigestRow(rows *sql.Rows) (*core.Digest, error) {
	d, err := scanDigestFields(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan digest: %w", err)
	}
	return d, nil
}

// postgresProfileRepo implements ProfileRepository for PostgreSQL
type postgresProfileRepo struct {
	db *sql.DB
}

func (r *postgresProfileRepo) Get(ctx context.Context, userID, topicID string) (*core.PreferenceProfile, error) {
	query := `SELECT user_id, topic_id, COALESCE(vector::text, ''), sample_count, updated_at
		FROM preference_profiles WHERE user_id = $1 AND topic_id = $2`
	var p core.PreferenceProfile
	var vec string
	err := r.db.QueryRowContext(ctx, query, userID, topicID).Scan(&p.UserID, &p.TopicID, &vec, &p.SampleCount, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preference profile: %w", err)
	}
	if p.Vector, err = parseVector(vec); err != nil {
		return nil, fmt.Errorf("failed to parse profile vector: %w", err)
	}
	return &p, nil
}

func (r *postgresProfileRepo) Upsert(ctx context.Context, p *core.PreferenceProfile) error {
	query := `
		INSERT INTO preference_profiles (user_id, topic_id, vector, sample_count, updated_at)
		VALUES ($1, $2, $3::vector, $4, $5)
		ON CONFLICT (user_id, topic_id)
		DO UPDATE SET vector = EXCLUDED.vector, sample_count = EXCLUDED.sample_count, updated_at = EXCLUDED.updated_at
	`
	var vec interface{}
	if len(p.Vector) > 0 {
		vec = formatVector(p.Vector)
	}
	if _, err := r.db.ExecContext(ctx, query, p.UserID, p.TopicID, vec, p.SampleCount, p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert preference profile: %w", err)
	}
	return nil
}

// postgresFeedbackRepo implements FeedbackRepository for PostgreSQL
type postgresFeedbackRepo struct {
	db *sql.DB
}

func (r *postgresFeedbackRepo) Insert(ctx context.Context, e *core.FeedbackEvent) error {
	query := `
		INSERT INTO feedback_events (id, user_id, topic_id, content_item_id, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.UserID, e.TopicID, e.ContentItemID, string(e.Action), e.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert feedback event: %w", err)
	}
	return nil
}

func (r *postgresFeedbackRepo) ListByUserTopic(ctx context.Context, userID, topicID string) ([]core.FeedbackEvent, error) {
	query := `SELECT id, user_id, topic_id, content_item_id, action, created_at
		FROM feedback_events WHERE user_id = $1 AND topic_id = $2 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback events: %w", err)
	}
	defer rows.Close()

	var events []core.FeedbackEvent
	for rows.Next() {
		var e core.FeedbackEvent
		var action string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TopicID, &e.ContentItemID, &action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		e.Action = core.FeedbackAction(action)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *postgresFeedbackRepo) Get(ctx context.Context, id string) (*core.FeedbackEvent, error) {
	query := `SELECT id, user_id, topic_id, content_item_id, action, created_at FROM feedback_events WHERE id = $1`
	var e core.FeedbackEvent
	var action string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.UserID, &e.TopicID, &e.ContentItemID, &action, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feedback event: %w", err)
	}
	e.Action = core.FeedbackAction(action)
	return &e, nil
}

func (r *postgresFeedbackRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM feedback_events WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete feedback event: %w", err)
	}
	return nil
}

// postgresProviderCallRepo implements ProviderCallRepository for PostgreSQL
type postgresProviderCallRepo struct {
	db *sql.DB
}

func (r *postgresProviderCallRepo) Insert(ctx context.Context, c *core.ProviderCall) error {
	query := `
		INSERT INTO provider_calls (id, user_id, provider, model, purpose, input_tokens, output_tokens, cost_credits, status, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.Provider, c.Model, c.Purpose, c.InputTokens,
		c.OutputTokens, c.CostCredits, c.Status, c.LatencyMs, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert provider call: %w", err)
	}
	return nil
}

func (r *postgresProviderCallRepo) SumCostInRange(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_credits), 0) FROM provider_calls
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, userID, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum provider call cost: %w", err)
	}
	return total, nil
}

// postgresAbtestRepo implements AbtestRepository for PostgreSQL
type postgresAbtestRepo struct {
	db *sql.DB
}

func (r *postgresAbtestRepo) CreateRun(ctx context.Context, run *core.AbtestRun) error {
	variantsJSON, err := json.Marshal(run.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	query := `
		INSERT INTO abtest_runs (id, user_id, topic_id, window_start, window_end, variants, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.UserID, run.TopicID, run.WindowStart, run.WindowEnd,
		variantsJSON, run.Status, run.CreatedAt); err != nil {
		return fmt.Errorf("failed to create abtest run: %w", err)
	}
	return nil
}

func (r *postgresAbtestRepo) UpdateRunStatus(ctx context.Context, runID, status string, finishedAt time.Time) error {
	var finished interface{}
	if !finishedAt.IsZero() {
		finished = finishedAt
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE abtest_runs SET status = $2, finished_at = $3 WHERE id = $1`,
		runID, status, finished); err != nil {
		return fmt.Errorf("failed to update abtest run status: %w", err)
	}
	return nil
}

func (r *postgresAbtestRepo) GetRun(ctx context.Context, runID string) (*core.AbtestRun, error) {
	query := `SELECT id, user_id, topic_id, window_start, window_end, variants, status, created_at, finished_at
		FROM abtest_runs WHERE id = $1`
	var run core.AbtestRun
	var variantsJSON []byte
	var finished sql.NullTime
	err := r.db.QueryRowContext(ctx, query, runID).Scan(&run.ID, &run.UserID, &run.TopicID,
		&run.WindowStart, &run.WindowEnd, &variantsJSON, &run.Status, &run.CreatedAt, &finished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get abtest run: %w", err)
	}
	if err := json.Unmarshal(variantsJSON, &run.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

func (r *postgresAbtestRepo) InsertItem(ctx context.Context, item *core.AbtestItem) error {
	candidateJSON, err := json.Marshal(item.Candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot candidate: %w", err)
	}
	query := `INSERT INTO abtest_items (run_id, position, candidate) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, item.RunID, item.Position, candidateJSON); err != nil {
		return fmt.Errorf("failed to insert abtest item: %w", err)
	}
	return nil
}

func (r *postgresAbtestRepo) InsertResult(ctx context.Context, res *core.AbtestResult) error {
	triageJSON, err := json.Marshal(res.Triage)
	if err != nil {
		return fmt.Errorf("failed to marshal triage result: %w", err)
	}
	query := `
		INSERT INTO abtest_results (id, run_id, variant_name, candidate_id, status, triage, error, input_tokens, output_tokens, cost_credits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := r.db.ExecContext(ctx, query,
		res.ID, res.RunID, res.VariantName, res.CandidateID, res.Status,
		triageJSON, res.Error, res.InputTokens, res.OutputTokens, res.CostCredits, res.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert abtest result: %w", err)
	}
	return nil
}

func (r *postgresAbtestRepo) ListResults(ctx context.Context, runID string) ([]core.AbtestResult, error) {
	query := `
		SELECT id, run_id, variant_name, candidate_id, status, triage, error, input_tokens, output_tokens, cost_credits, created_at
		FROM abtest_results WHERE run_id = $1 ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list abtest results: %w", err)
	}
	defer rows.Close()

	var results []core.AbtestResult
	for rows.Next() {
		var res core.AbtestResult
		var triageJSON []byte
		var errText sql.NullString
		if err := rows.Scan(&res.ID, &res.RunID, &res.VariantName, &res.CandidateID,
			&res.Status, &triageJSON, &errText, &res.InputTokens, &res.OutputTokens,
			&res.CostCredits, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan abtest result: %w", err)
		}
		if errText.Valid {
			res.Error = errText.String
		}
		if len(triageJSON) > 0 && string(triageJSON) != "null" {
			res.Triage = &core.TriageResult{}
			if err := json.Unmarshal(triageJSON, res.Triage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal triage result: %w", err)
			}
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
