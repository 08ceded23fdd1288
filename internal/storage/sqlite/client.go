package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/logger"
	"github.com/modalbot/backend/pkg/retry"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type Client struct {
	db       *sql.DB
	retryCfg retry.Config
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.GetLogger()

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, retryCfg: retryCfg}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_records (
		timestamp INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		initial_system_prompt TEXT,
		final_system_prompt TEXT,
		max_tokens INTEGER,
		temperature REAL,
		initial_response TEXT,
		tool_output TEXT,
		doc_context TEXT,
		image_context TEXT,
		video_frame_context TEXT,
		memory_context TEXT,
		chat_memory_context TEXT,
		history_context TEXT,
		context_summary TEXT,
		final_messages TEXT,
		final_response TEXT,
		answer TEXT,
		follow_up_prompt TEXT,
		follow_up_raw TEXT,
		follow_up_questions TEXT,
		field_errors TEXT,
		PRIMARY KEY (timestamp, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_records(user_id);

	CREATE TABLE IF NOT EXISTS chat_history (
		timestamp INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (timestamp, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_history_user ON chat_history(user_id);

	CREATE TABLE IF NOT EXISTS memory_bank (
		timestamp INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		language TEXT,
		context_query TEXT,
		PRIMARY KEY (timestamp, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_bank(user_id);

	CREATE TABLE IF NOT EXISTS user_personas (
		user_id TEXT NOT NULL,
		persona_name TEXT NOT NULL,
		initial_prompt TEXT,
		final_prompt TEXT,
		max_tokens INTEGER,
		temperature REAL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (user_id, persona_name)
	);

	CREATE TABLE IF NOT EXISTS prompt_experiments (
		id TEXT PRIMARY KEY,
		task TEXT,
		system_prompt TEXT,
		user_prompt TEXT,
		model TEXT,
		provider TEXT,
		temperature REAL,
		max_tokens INTEGER,
		response TEXT,
		response_time_ms REAL,
		word_count INTEGER,
		char_count INTEGER,
		error TEXT,
		timestamp INTEGER NOT NULL,
		user_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_user ON prompt_experiments(user_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (sql.Result, error) {
		return c.db.ExecContext(ctx, query, args...)
	})
}

// ── Query records ────────────────────────────────────────────────────────────

func (c *Client) InsertQueryRecord(ctx context.Context, rec *models.QueryRecord) error {
	query := `
		INSERT INTO query_records (
			timestamp, user_id, prompt, initial_system_prompt, final_system_prompt,
			max_tokens, temperature, initial_response, tool_output, doc_context,
			image_context, video_frame_context, memory_context, chat_memory_context,
			history_context, context_summary, final_messages, final_response, answer,
			follow_up_prompt, follow_up_raw, follow_up_questions, field_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.exec(ctx, query,
		rec.Timestamp.UnixNano(),
		rec.UserID,
		rec.Prompt,
		rec.InitialSystemPrompt,
		rec.FinalSystemPrompt,
		rec.MaxTokens,
		rec.Temperature,
		rec.InitialResponse,
		rec.ToolOutput,
		marshalJSON(rec.DocContext),
		marshalJSON(rec.ImageContext),
		marshalJSON(rec.VideoFrameContext),
		marshalJSON(rec.MemoryContext),
		marshalJSON(rec.ChatMemoryContext),
		marshalJSON(rec.HistoryContext),
		rec.ContextSummary,
		marshalJSON(rec.FinalMessages),
		rec.FinalResponse,
		rec.Answer,
		rec.FollowUpPrompt,
		rec.FollowUpRaw,
		marshalJSON(rec.FollowUpQuestions),
		marshalJSON(rec.FieldErrors),
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("query record %s/%d: %w", rec.UserID, rec.Timestamp.UnixNano(), ErrConflict)
		}
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query record inserted",
		zap.String("user_id", rec.UserID),
		zap.Time("timestamp", rec.Timestamp),
	)
	return nil
}

func (c *Client) GetQueryRecord(ctx context.Context, ts time.Time, userID string) (*models.QueryRecord, error) {
	query := `
		SELECT timestamp, user_id, prompt, initial_system_prompt, final_system_prompt,
			max_tokens, temperature, initial_response, tool_output, doc_context,
			image_context, video_frame_context, memory_context, chat_memory_context,
			history_context, context_summary, final_messages, final_response, answer,
			follow_up_prompt, follow_up_raw, follow_up_questions, field_errors
		FROM query_records WHERE timestamp = ? AND user_id = ?
	`

	return retry.DoWithResult(ctx, c.retryCfg, func() (*models.QueryRecord, error) {
		row := c.db.QueryRowContext(ctx, query, ts.UnixNano(), userID)
		rec, err := scanQueryRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get query record: %w", err)
		}
		return rec, nil
	})
}

func (c *Client) ListQueryRecords(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT timestamp, user_id, prompt, initial_system_prompt, final_system_prompt,
			max_tokens, temperature, initial_response, tool_output, doc_context,
			image_context, video_frame_context, memory_context, chat_memory_context,
			history_context, context_summary, final_messages, final_response, answer,
			follow_up_prompt, follow_up_raw, follow_up_questions, field_errors
		FROM query_records WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?
	`

	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.QueryRecord, error) {
		rows, err := c.db.QueryContext(ctx, query, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list query records: %w", err)
		}
		defer rows.Close()

		var records []models.QueryRecord
		for rows.Next() {
			rec, err := scanQueryRecord(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan query record: %w", err)
			}
			records = append(records, *rec)
		}
		return records, rows.Err()
	})
}

func (c *Client) DeleteQueryRecord(ctx context.Context, ts time.Time, userID string) error {
	res, err := c.exec(ctx, `DELETE FROM query_records WHERE timestamp = ? AND user_id = ?`, ts.UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("failed to delete query record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SampleFieldErrors scans up to limit of the newest query records and counts,
// per derived field, how many carry an error marker.
func (c *Client) SampleFieldErrors(ctx context.Context, fields []string, limit int) (map[string]int, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (map[string]int, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT field_errors FROM query_records ORDER BY timestamp DESC LIMIT ?`, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to sample field errors: %w", err)
		}
		defer rows.Close()

		counts := make(map[string]int, len(fields))
		for _, f := range fields {
			counts[f] = 0
		}

		for rows.Next() {
			var raw sql.NullString
			if err := rows.Scan(&raw); err != nil {
				return nil, fmt.Errorf("failed to scan field errors: %w", err)
			}
			if !raw.Valid || raw.String == "" {
				continue
			}
			var fieldErrs map[string]string
			if err := json.Unmarshal([]byte(raw.String), &fieldErrs); err != nil {
				continue
			}
			for _, f := range fields {
				if _, ok := fieldErrs[f]; ok {
					counts[f]++
				}
			}
		}
		return counts, rows.Err()
	})
}

// ── Chat history ─────────────────────────────────────────────────────────────

func (c *Client) InsertChatTurn(ctx context.Context, turn *models.ChatTurn) error {
	_, err := c.exec(ctx,
		`INSERT INTO chat_history (timestamp, user_id, role, content) VALUES (?, ?, ?, ?)`,
		turn.Timestamp.UnixNano(), turn.UserID, turn.Role, turn.Content,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("chat turn %s/%d: %w", turn.UserID, turn.Timestamp.UnixNano(), ErrConflict)
		}
		return fmt.Errorf("failed to insert chat turn: %w", err)
	}
	return nil
}

// RecentHistory returns the last limit turns for a user, newest first.
func (c *Client) RecentHistory(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.ChatTurn, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT timestamp, user_id, role, content FROM chat_history
			 WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chat history: %w", err)
		}
		defer rows.Close()
		return scanChatTurns(rows)
	})
}

func (c *Client) ListHistory(ctx context.Context, userID string) ([]models.ChatTurn, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.ChatTurn, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT timestamp, user_id, role, content FROM chat_history
			 WHERE user_id = ? ORDER BY timestamp DESC`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chat history: %w", err)
		}
		defer rows.Close()
		return scanChatTurns(rows)
	})
}

func (c *Client) DeleteChatTurn(ctx context.Context, ts time.Time, userID string) error {
	res, err := c.exec(ctx, `DELETE FROM chat_history WHERE timestamp = ? AND user_id = ?`, ts.UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Memory bank ──────────────────────────────────────────────────────────────

func (c *Client) InsertMemory(ctx context.Context, item *models.MemoryItem) error {
	_, err := c.exec(ctx,
		`INSERT INTO memory_bank (timestamp, user_id, content, type, language, context_query)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Timestamp.UnixNano(), item.UserID, item.Content, item.Type, item.Language, item.ContextQuery,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("memory item %s/%d: %w", item.UserID, item.Timestamp.UnixNano(), ErrConflict)
		}
		return fmt.Errorf("failed to insert memory item: %w", err)
	}
	return nil
}

func (c *Client) ListMemory(ctx context.Context, userID string) ([]models.MemoryItem, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.MemoryItem, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT timestamp, user_id, content, type, language, context_query
			 FROM memory_bank WHERE user_id = ? ORDER BY timestamp DESC`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list memory items: %w", err)
		}
		defer rows.Close()

		var items []models.MemoryItem
		for rows.Next() {
			var item models.MemoryItem
			var ts int64
			var lang, cq sql.NullString
			if err := rows.Scan(&ts, &item.UserID, &item.Content, &item.Type, &lang, &cq); err != nil {
				return nil, fmt.Errorf("failed to scan memory item: %w", err)
			}
			item.Timestamp = time.Unix(0, ts)
			item.Language = lang.String
			item.ContextQuery = cq.String
			items = append(items, item)
		}
		return items, rows.Err()
	})
}

func (c *Client) DeleteMemory(ctx context.Context, ts time.Time, userID string) error {
	res, err := c.exec(ctx, `DELETE FROM memory_bank WHERE timestamp = ? AND user_id = ?`, ts.UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("failed to delete memory item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Personas ─────────────────────────────────────────────────────────────────

func (c *Client) InsertPersona(ctx context.Context, p *models.Persona) error {
	_, err := c.exec(ctx,
		`INSERT INTO user_personas (user_id, persona_name, initial_prompt, final_prompt, max_tokens, temperature, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, p.InitialPrompt, p.FinalPrompt, p.MaxTokens, p.Temperature, p.Timestamp.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("persona %q: %w", p.Name, ErrConflict)
		}
		return fmt.Errorf("failed to insert persona: %w", err)
	}
	return nil
}

func (c *Client) UpdatePersona(ctx context.Context, p *models.Persona) error {
	res, err := c.exec(ctx,
		`UPDATE user_personas SET initial_prompt = ?, final_prompt = ?, max_tokens = ?, temperature = ?
		 WHERE user_id = ? AND persona_name = ?`,
		p.InitialPrompt, p.FinalPrompt, p.MaxTokens, p.Temperature, p.UserID, p.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) GetPersona(ctx context.Context, userID, name string) (*models.Persona, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (*models.Persona, error) {
		var p models.Persona
		var ts int64
		err := c.db.QueryRowContext(ctx,
			`SELECT user_id, persona_name, initial_prompt, final_prompt, max_tokens, temperature, timestamp
			 FROM user_personas WHERE user_id = ? AND persona_name = ?`, userID, name).
			Scan(&p.UserID, &p.Name, &p.InitialPrompt, &p.FinalPrompt, &p.MaxTokens, &p.Temperature, &ts)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get persona: %w", err)
		}
		p.Timestamp = time.Unix(0, ts)
		return &p, nil
	})
}

func (c *Client) ListPersonas(ctx context.Context, userID string) ([]models.Persona, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.Persona, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT user_id, persona_name, initial_prompt, final_prompt, max_tokens, temperature, timestamp
			 FROM user_personas WHERE user_id = ? ORDER BY persona_name ASC`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list personas: %w", err)
		}
		defer rows.Close()

		var personas []models.Persona
		for rows.Next() {
			var p models.Persona
			var ts int64
			if err := rows.Scan(&p.UserID, &p.Name, &p.InitialPrompt, &p.FinalPrompt, &p.MaxTokens, &p.Temperature, &ts); err != nil {
				return nil, fmt.Errorf("failed to scan persona: %w", err)
			}
			p.Timestamp = time.Unix(0, ts)
			personas = append(personas, p)
		}
		return personas, rows.Err()
	})
}

func (c *Client) DeletePersona(ctx context.Context, userID, name string) error {
	res, err := c.exec(ctx, `DELETE FROM user_personas WHERE user_id = ? AND persona_name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Prompt experiments ───────────────────────────────────────────────────────

func (c *Client) InsertExperiment(ctx context.Context, e *models.PromptExperiment) error {
	_, err := c.exec(ctx,
		`INSERT INTO prompt_experiments (id, task, system_prompt, user_prompt, model, provider,
			temperature, max_tokens, response, response_time_ms, word_count, char_count, error, timestamp, user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Task, e.SystemPrompt, e.UserPrompt, e.Model, e.Provider,
		e.Temperature, e.MaxTokens, e.Response, e.ResponseTimeMS, e.WordCount, e.CharCount, e.Error,
		e.Timestamp.UnixNano(), e.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (c *Client) ListExperiments(ctx context.Context, userID string, limit int) ([]models.PromptExperiment, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]models.PromptExperiment, error) {
		rows, err := c.db.QueryContext(ctx,
			`SELECT id, task, system_prompt, user_prompt, model, provider, temperature, max_tokens,
				response, response_time_ms, word_count, char_count, error, timestamp, user_id
			 FROM prompt_experiments WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list experiments: %w", err)
		}
		defer rows.Close()

		var experiments []models.PromptExperiment
		for rows.Next() {
			var e models.PromptExperiment
			var ts int64
			var errStr sql.NullString
			if err := rows.Scan(&e.ID, &e.Task, &e.SystemPrompt, &e.UserPrompt, &e.Model, &e.Provider,
				&e.Temperature, &e.MaxTokens, &e.Response, &e.ResponseTimeMS, &e.WordCount, &e.CharCount,
				&errStr, &ts, &e.UserID); err != nil {
				return nil, fmt.Errorf("failed to scan experiment: %w", err)
			}
			e.Error = errStr.String
			e.Timestamp = time.Unix(0, ts)
			experiments = append(experiments, e)
		}
		return experiments, rows.Err()
	})
}

// ── Scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueryRecord(row rowScanner) (*models.QueryRecord, error) {
	var rec models.QueryRecord
	var ts int64
	var docCtx, imgCtx, frameCtx, memCtx, chatCtx, histCtx, finalMsgs, followUps, fieldErrs sql.NullString
	var initialResp, toolOut, summary, finalResp, answer, fuPrompt, fuRaw sql.NullString

	err := row.Scan(
		&ts, &rec.UserID, &rec.Prompt, &rec.InitialSystemPrompt, &rec.FinalSystemPrompt,
		&rec.MaxTokens, &rec.Temperature, &initialResp, &toolOut, &docCtx,
		&imgCtx, &frameCtx, &memCtx, &chatCtx,
		&histCtx, &summary, &finalMsgs, &finalResp, &answer,
		&fuPrompt, &fuRaw, &followUps, &fieldErrs,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = time.Unix(0, ts)
	rec.InitialResponse = initialResp.String
	rec.ToolOutput = toolOut.String
	rec.ContextSummary = summary.String
	rec.FinalResponse = finalResp.String
	rec.Answer = answer.String
	rec.FollowUpPrompt = fuPrompt.String
	rec.FollowUpRaw = fuRaw.String

	unmarshalJSON(docCtx, &rec.DocContext)
	unmarshalJSON(imgCtx, &rec.ImageContext)
	unmarshalJSON(frameCtx, &rec.VideoFrameContext)
	unmarshalJSON(memCtx, &rec.MemoryContext)
	unmarshalJSON(chatCtx, &rec.ChatMemoryContext)
	unmarshalJSON(histCtx, &rec.HistoryContext)
	unmarshalJSON(finalMsgs, &rec.FinalMessages)
	unmarshalJSON(followUps, &rec.FollowUpQuestions)
	unmarshalJSON(fieldErrs, &rec.FieldErrors)

	return &rec, nil
}

func scanChatTurns(rows *sql.Rows) ([]models.ChatTurn, error) {
	var turns []models.ChatTurn
	for rows.Next() {
		var turn models.ChatTurn
		var ts int64
		if err := rows.Scan(&ts, &turn.UserID, &turn.Role, &turn.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}
		turn.Timestamp = time.Unix(0, ts)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON(raw sql.NullString, dest interface{}) {
	if !raw.Valid || raw.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw.String), dest)
}
