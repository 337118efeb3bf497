package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/internal/metrics"
	"github.com/thanhkt275/rms-realtime/internal/session"
	"github.com/thanhkt275/rms-realtime/pkg/rtcerr"
	"github.com/thanhkt275/rms-realtime/pkg/types"
)

// Typed senders validate payload shape before handing off to the
// emission pipeline. Invalid payloads never reach the network: the
// call sites are fire-and-forget UI handlers, so rejections surface
// through the log and the error callback rather than a return value.

// SendScoreUpdate emits a live score change. The payload must carry a
// match id and either full alliance totals or a scoped partial update.
func (c *Client) SendScoreUpdate(p types.ScoreUpdate) {
	if p.MatchID == "" {
		c.rejectInvalid(types.EventScoreUpdate, "missing matchId")
		return
	}
	if !p.HasTotals() && !p.HasPartial() {
		c.rejectInvalid(types.EventScoreUpdate, "need full totals or alliance+component+delta")
		return
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}

	c.sess.ApplyLocal(p.MatchID, func(s *session.MatchStateSnapshot) {
		if p.RedTotal != nil {
			s.RedTotal = *p.RedTotal
		}
		if p.BlueTotal != nil {
			s.BlueTotal = *p.BlueTotal
		}
	})
	c.emitTyped(types.EventScoreUpdate, p)
}

// SendTimerUpdate emits a timer tick.
func (c *Client) SendTimerUpdate(p types.TimerUpdate) {
	if p.MatchID == "" {
		c.rejectInvalid(types.EventTimerUpdate, "missing matchId")
		return
	}
	if p.Seconds < 0 {
		c.rejectInvalid(types.EventTimerUpdate, "negative seconds")
		return
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}

	c.sess.ApplyLocal(p.MatchID, func(s *session.MatchStateSnapshot) {
		s.TimerSeconds = p.Seconds
		s.TimerRunning = p.Running
	})
	c.emitTyped(types.EventTimerUpdate, p)
}

// SendTimerControl emits timer_start, timer_pause or timer_reset.
func (c *Client) SendTimerControl(event string, p types.TimerUpdate) {
	switch event {
	case types.EventTimerStart, types.EventTimerPause, types.EventTimerReset:
	default:
		c.rejectInvalid(event, "not a timer control event")
		return
	}
	if p.MatchID == "" {
		c.rejectInvalid(event, "missing matchId")
		return
	}
	c.emitTyped(event, p)
}

// SendMatchUpdate emits a generic match mutation, versioned against
// the local session state so concurrent writers can be detected.
func (c *Client) SendMatchUpdate(p types.MatchUpdate) {
	if p.MatchID == "" {
		c.rejectInvalid(types.EventMatchUpdate, "missing matchId")
		return
	}

	snap := c.sess.ApplyLocal(p.MatchID, func(s *session.MatchStateSnapshot) {
		if p.Status != "" {
			s.Status = p.Status
		}
	})
	p.Version = snap.Version
	c.emitTyped(types.EventMatchUpdate, p)
}

// SendMatchStateChange emits a lifecycle transition.
func (c *Client) SendMatchStateChange(p types.MatchStateChange) {
	if p.MatchID == "" || p.Status == "" {
		c.rejectInvalid(types.EventMatchStateChange, "missing matchId or status")
		return
	}

	snap := c.sess.ApplyLocal(p.MatchID, func(s *session.MatchStateSnapshot) {
		s.Status = p.Status
	})
	p.Version = snap.Version
	c.emitTyped(types.EventMatchStateChange, p)
}

// SendDisplayModeChange switches an audience display.
func (c *Client) SendDisplayModeChange(p types.DisplayModeChange) {
	if p.Mode == "" {
		c.rejectInvalid(types.EventDisplayModeChange, "missing mode")
		return
	}
	c.emitTyped(types.EventDisplayModeChange, p)
}

// SendAnnouncement pushes operator text to displays.
func (c *Client) SendAnnouncement(p types.Announcement) {
	if p.Message == "" {
		c.rejectInvalid(types.EventAnnouncement, "missing message")
		return
	}
	c.emitTyped(types.EventAnnouncement, p)
}

// SendRankingUpdate replaces a tournament's ranking table.
func (c *Client) SendRankingUpdate(p types.RankingUpdate) {
	if p.TournamentID == "" {
		c.rejectInvalid(types.EventRankingUpdate, "missing tournamentId")
		return
	}
	c.emitTyped(types.EventRankingUpdate, p)
}

// PersistScores asks the server to durably store final scores and
// waits for its acknowledgment. This is the one operation that returns
// an error to the caller, since the caller explicitly awaited a
// result.
func (c *Client) PersistScores(ctx context.Context, p types.PersistScoresRequest) error {
	if p.MatchID == "" {
		return rtcerr.Validationf("persist_scores: missing matchId")
	}
	if !c.gate.CanEmit(types.EventPersistScores) {
		return rtcerr.PermissionDeniedf("role %s may not emit %s", c.gate.Role(), types.EventPersistScores)
	}
	if c.Info().State != types.StateConnected {
		return rtcerr.Connectionf(nil, "not connected")
	}

	p.RequestID = uuid.NewString()
	ch := make(chan types.PersistScoresAck, 1)
	c.ackMu.Lock()
	c.acks[p.RequestID] = ch
	c.ackMu.Unlock()
	defer func() {
		c.ackMu.Lock()
		delete(c.acks, p.RequestID)
		c.ackMu.Unlock()
	}()

	c.transmit(types.EventPersistScores, p)

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if !ack.Success {
			return fmt.Errorf("persist_scores rejected: %s", ack.Error)
		}
		return nil
	case <-timer.C:
		return rtcerr.Connectionf(nil, "no ack within %s", c.cfg.AckTimeout).
			With("matchId", p.MatchID)
	case <-ctx.Done():
		return rtcerr.Connectionf(ctx.Err(), "persist cancelled")
	}
}

// emitTyped converts the struct payload to its JSON map form so the
// batcher, room filter and subscribers all see one shape.
func (c *Client) emitTyped(event string, payload any) {
	if !c.authorize(event) {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.rejectInvalid(event, "unmarshalable payload")
		return
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		c.rejectInvalid(event, "unmarshalable payload")
		return
	}

	if _, ok := batchedEvents[event]; ok {
		c.sendBatch.Call(event, streamKey(event, m), m)
		return
	}
	c.deliverOutbound(event, m)
}

func (c *Client) rejectInvalid(event, reason string) {
	c.log.Warn("invalid payload",
		zap.String("event", event),
		zap.String("reason", reason),
	)
	metrics.EventsDropped.WithLabelValues(event, "validation").Inc()
	c.reportError(rtcerr.Validationf("%s: %s", event, reason).With("event", event))
}
