package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

// ErrUnknownMessage is returned for a message type outside the contract.
var ErrUnknownMessage = errors.New("unknown message type")

// Message types.
const (
	MsgStateUpdate   = "STATE_UPDATE"
	MsgVideoChanged  = "VIDEO_CHANGED"
	MsgGetStatus     = "GET_STATUS"
	MsgGetDailyStats = "GET_DAILY_STATS"
	MsgCloseTab      = "CLOSE_TAB"
)

// Message is a request from a detector or the popup. TabID identifies the sender's tab.
type Message struct {
	Type     string          `json:"type"`
	Status   string          `json:"status,omitempty"`
	Platform models.Platform `json:"platform,omitempty"`
	Title    string          `json:"title,omitempty"`
	TabID    int             `json:"tabId,omitempty"`
}

// Ack is the plain success response.
type Ack struct {
	Success bool `json:"success"`
}

// TabCloser asks the browser side to close a tab.
type TabCloser interface {
	CloseTab(tabID int) error
}

// Dispatcher routes messages to the lifecycle manager and reporter.
type Dispatcher struct {
	manager  *Manager
	reporter *Reporter
	closer   TabCloser
	logger   *zap.Logger
}

// NewDispatcher creates a message dispatcher. closer may be nil.
func NewDispatcher(manager *Manager, reporter *Reporter, closer TabCloser, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{manager: manager, reporter: reporter, closer: closer, logger: logger}
}

// Dispatch handles one message and returns the response value for its type. Failures
// are logged and answered with {success:false}; the error is returned alongside for callers
// that want it.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case MsgStateUpdate:
		res, err := d.manager.OnActivitySignal(ctx, Signal{Status: msg.Status, Platform: msg.Platform, TabID: msg.TabID})
		if err != nil {
			d.logger.Warn("state update failed", zap.String("status", msg.Status), zap.String("platform", string(msg.Platform)), zap.Error(err))
			return Ack{Success: false}, err
		}
		return res, nil

	case MsgVideoChanged:
		if err := d.manager.OnVideoChanged(ctx, msg.Title); err != nil {
			d.logger.Warn("video change failed", zap.Error(err))
			return Ack{Success: false}, err
		}
		return Ack{Success: true}, nil

	case MsgGetStatus:
		status, err := d.reporter.RealtimeStatus(ctx)
		if err != nil {
			d.logger.Warn("status read failed", zap.Error(err))
			return Ack{Success: false}, err
		}
		return status, nil

	case MsgGetDailyStats:
		stats, err := d.reporter.DailyStatsOnly(ctx)
		if err != nil {
			d.logger.Warn("daily stats read failed", zap.Error(err))
			return Ack{Success: false}, err
		}
		return stats, nil

	case MsgCloseTab:
		if msg.TabID > 0 && d.closer != nil {
			if err := d.closer.CloseTab(msg.TabID); err != nil {
				d.logger.Warn("close tab failed", zap.Int("tab_id", msg.TabID), zap.Error(err))
			}
		}
		return Ack{Success: true}, nil

	default:
		return Ack{Success: false}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
