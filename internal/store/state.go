package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/engine"
)

// StatePatch is a targeted merge of the controller-state singleton. Nil
// fields are left untouched. ClearPending wipes all four pending columns in
// one write; it wins over the individual pending fields.
type StatePatch struct {
	LastSavedAt         *time.Time
	LastDecisionAt      *time.Time
	LastDecisionResult  *engine.Decision
	LastEmailSentAt     *time.Time
	LastEmailType       *string
	Pending             *engine.PendingParcel
	PendingFirstAttempt *time.Time
	PendingAttemptCount *int
	PendingMeta         map[string]any
	ClearPending        bool
}

// LoadState reads the singleton controller state. Returns (nil, nil) when
// the row does not exist yet; the controller initializes it on first use.
func (s *Store) LoadState(ctx context.Context) (*engine.ControllerState, error) {
	var (
		st                 engine.ControllerState
		lastDecisionAt     *time.Time
		decisionJSON       []byte
		lastEmailType      *string
		pendingJSON        []byte
		pendingMetaJSON    []byte
		pendingAttemptsRaw *int
		updatedAt          *time.Time
	)

	err := s.pool.QueryRow(ctx, "load_controller_state").Scan(
		&st.LastSavedAt,
		&lastDecisionAt,
		&decisionJSON,
		&st.LastEmailSentAt,
		&lastEmailType,
		&pendingJSON,
		&st.PendingFirstAttempt,
		&pendingAttemptsRaw,
		&pendingMetaJSON,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load controller state: %w", err)
	}

	if lastDecisionAt != nil {
		st.LastDecisionAt = *lastDecisionAt
	}
	if lastEmailType != nil {
		st.LastEmailType = *lastEmailType
	}
	if pendingAttemptsRaw != nil {
		st.PendingAttemptCount = *pendingAttemptsRaw
	}
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	if len(decisionJSON) > 0 {
		var d engine.Decision
		if err := json.Unmarshal(decisionJSON, &d); err != nil {
			return nil, fmt.Errorf("decode last decision: %w", err)
		}
		st.LastDecisionResult = &d
	}
	if len(pendingJSON) > 0 {
		var p engine.PendingParcel
		if err := json.Unmarshal(pendingJSON, &p); err != nil {
			return nil, fmt.Errorf("decode pending parcel: %w", err)
		}
		st.Pending = &p
	}
	if len(pendingMetaJSON) > 0 {
		if err := json.Unmarshal(pendingMetaJSON, &st.PendingMeta); err != nil {
			return nil, fmt.Errorf("decode pending meta: %w", err)
		}
	}

	return &st, nil
}

// UpdateState merges a patch into the singleton row. The row is created on
// first use; updated_at is bumped on every write. Last-write-wins is
// acceptable here: ticks are serialized by the scheduler and the worst
// outcome of a lost update is a re-evaluation on the next tick.
func (s *Store) UpdateState(ctx context.Context, patch StatePatch) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO "+config.SaveMetaTable+" (id) VALUES (1) ON CONFLICT (id) DO NOTHING")
	if err != nil {
		return fmt.Errorf("ensure controller state row: %w", err)
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.LastSavedAt != nil {
		sets = append(sets, "last_saved_at = "+arg(*patch.LastSavedAt))
	}
	if patch.LastDecisionAt != nil {
		sets = append(sets, "last_decision_at = "+arg(*patch.LastDecisionAt))
	}
	if patch.LastDecisionResult != nil {
		b, err := json.Marshal(patch.LastDecisionResult)
		if err != nil {
			return fmt.Errorf("encode decision: %w", err)
		}
		sets = append(sets, "last_decision_result = "+arg(b))
	}
	if patch.LastEmailSentAt != nil {
		sets = append(sets, "last_email_sent_at = "+arg(*patch.LastEmailSentAt))
	}
	if patch.LastEmailType != nil {
		sets = append(sets, "last_email_type = "+arg(*patch.LastEmailType))
	}

	if patch.ClearPending {
		sets = append(sets,
			"pending_data = NULL",
			"pending_first_attempt = NULL",
			"pending_attempt_count = 0",
			"pending_meta = NULL")
	} else {
		if patch.Pending != nil {
			b, err := json.Marshal(patch.Pending)
			if err != nil {
				return fmt.Errorf("encode pending parcel: %w", err)
			}
			sets = append(sets, "pending_data = "+arg(b))
		}
		if patch.PendingFirstAttempt != nil {
			sets = append(sets, "pending_first_attempt = "+arg(*patch.PendingFirstAttempt))
		}
		if patch.PendingAttemptCount != nil {
			sets = append(sets, "pending_attempt_count = "+arg(*patch.PendingAttemptCount))
		}
		if patch.PendingMeta != nil {
			b, err := json.Marshal(patch.PendingMeta)
			if err != nil {
				return fmt.Errorf("encode pending meta: %w", err)
			}
			sets = append(sets, "pending_meta = "+arg(b))
		}
	}

	sql := "UPDATE " + config.SaveMetaTable + " SET " + joinSets(sets) + " WHERE id = 1"
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update controller state: %w", err)
	}
	return nil
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
