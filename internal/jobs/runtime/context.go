package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// Context is the execution contract between the job system and business
// code: it wraps the claimed job_run row, the DB handle, and the only
// sanctioned ways to report progress or terminate execution. Handlers
// never touch job_run rows directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

// NewContext eagerly decodes the job payload so handlers can read inputs
// via Payload()/PayloadString()/PayloadUUID(). A malformed payload decays
// to an empty map; handlers validate required fields themselves.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{Ctx: ctx, DB: db, Job: job, Repo: repo}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (c *Context) PayloadInt(key string, def int) int {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) dbc() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx, Tx: c.DB}
}

// Progress publishes a non-terminal status update on the job row.
func (c *Context) Progress(stage string, message string) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now().UTC()
	_ = c.Repo.UpdateFields(c.dbc(), c.Job.ID, map[string]any{
		"stage":        stage,
		"heartbeat_at": now,
	})
	_ = message
}

// Succeed releases the lease and marks the run succeeded, attaching an
// optional result document.
func (c *Context) Succeed(result map[string]any) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	updates := map[string]any{
		"status":    types.JobStatusSucceeded,
		"stage":     "done",
		"locked_at": nil,
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			updates["result"] = datatypes.JSON(raw)
		}
	}
	_ = c.Repo.UpdateFields(c.dbc(), c.Job.ID, updates)
}

// Fail releases the lease and records the error; the claim query decides
// when the run becomes runnable again based on attempts and retry delay.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now().UTC()
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	_ = c.Repo.UpdateFields(c.dbc(), c.Job.ID, map[string]any{
		"status":        types.JobStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
}
