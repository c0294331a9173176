package tracker

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
)

// Store keys.
const (
	KeyCurrentSession = "currentSession"
	KeyHistory        = "history"
	KeyActiveTabID    = "activeTabId"
	KeyTrackingTabID  = "trackingTabId"
)

var stateKeys = []string{KeyCurrentSession, KeyHistory, KeyActiveTabID, KeyTrackingTabID}

// State is one snapshot of the persisted tracking state.
type State struct {
	Session       *models.ActiveSession
	History       []models.HistoricalSession // newest first
	ActiveTabID   int                        // 0 when unset
	TrackingTabID int                        // 0 when unset
}

// StateRepository reads and writes the typed tracking state on top of a raw store.
type StateRepository struct {
	store store.Store
}

// NewStateRepository creates a state repository.
func NewStateRepository(s store.Store) *StateRepository {
	return &StateRepository{store: s}
}

// Store returns the underlying raw store.
func (r *StateRepository) Store() store.Store { return r.store }

// Snapshot reads all tracking keys at once.
func (r *StateRepository) Snapshot(ctx context.Context) (State, error) {
	raw, err := r.store.Get(ctx, stateKeys...)
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var st State
	if v, ok := raw[KeyCurrentSession]; ok {
		if err := decodeValue(v, &st.Session); err != nil {
			return State{}, fmt.Errorf("decode %s: %w", KeyCurrentSession, err)
		}
	}
	if v, ok := raw[KeyHistory]; ok {
		if err := decodeValue(v, &st.History); err != nil {
			return State{}, fmt.Errorf("decode %s: %w", KeyHistory, err)
		}
	}
	if st.History == nil {
		st.History = []models.HistoricalSession{}
	}
	if st.ActiveTabID, err = decodeTabID(raw[KeyActiveTabID]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", KeyActiveTabID, err)
	}
	if st.TrackingTabID, err = decodeTabID(raw[KeyTrackingTabID]); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", KeyTrackingTabID, err)
	}
	return st, nil
}

// Apply writes every key in p with a single store call.
func (r *StateRepository) Apply(ctx context.Context, p Patch) error {
	if len(p) == 0 {
		return nil
	}
	values := make(map[string][]byte, len(p))
	for k, v := range p {
		b, err := sonic.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		values[k] = b
	}
	if err := r.store.Set(ctx, values); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Patch is a partial state update keyed by store key.
type Patch map[string]any

// Session sets currentSession; nil clears it.
func (p Patch) Session(s *models.ActiveSession) Patch {
	p[KeyCurrentSession] = s
	return p
}

// History replaces the history list.
func (p Patch) History(h []models.HistoricalSession) Patch {
	if h == nil {
		h = []models.HistoricalSession{}
	}
	p[KeyHistory] = h
	return p
}

// TrackingTab binds the tracking interval to a tab; 0 clears it.
func (p Patch) TrackingTab(id int) Patch {
	p[KeyTrackingTabID] = tabValue(id)
	return p
}

// ActiveTab records the last tab reporting activity; 0 clears it.
func (p Patch) ActiveTab(id int) Patch {
	p[KeyActiveTabID] = tabValue(id)
	return p
}

func tabValue(id int) *int {
	if id <= 0 {
		return nil
	}
	return &id
}

func decodeValue(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return sonic.Unmarshal(b, v)
}

func decodeTabID(b []byte) (int, error) {
	var id *int
	if err := decodeValue(b, &id); err != nil {
		return 0, err
	}
	if id == nil || *id < 0 {
		return 0, nil
	}
	return *id, nil
}
