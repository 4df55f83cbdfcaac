// Package guard wires the moderation pipeline for the chat-send path:
// classify the outgoing message, record the violation, apply progressive
// sanctions and produce the final allow/warn/block decision. Infrastructure
// failures fail open - a message is never dropped because the store hiccuped.
package guard

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	"github.com/avoro/chat-guard/app/storage"
	"github.com/avoro/chat-guard/lib/modcheck"
)

// Guard checks outgoing messages and applies sanctions to violators.
type Guard struct {
	Detector  Detector
	Sanctions Sanctions
	Log       ViolationsLog
	Config
}

// Config is a set of parameters for Guard.
type Config struct {
	MaxWarnings int    // warning threshold, used in the user-facing warning text
	BlockedMsg  string // message shown to a blocked user
	DryBlockMsg string // block message variant for dry mode
	Dry         bool   // dry mode, classify and warn but never suppress
}

// Detector is a message classifier interface
type Detector interface {
	Check(req modcheck.Request) modcheck.Verdict
}

// Sanctions is a progressive sanctions interface
type Sanctions interface {
	HandleViolation(ctx context.Context, userID, violationID string) (allowed bool, err error)
	ViolationCount(ctx context.Context, userID string) (int, error)
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

// ViolationsLog persists detected violations for the admin surface
type ViolationsLog interface {
	Write(ctx context.Context, entry storage.ViolationInfo, verdict modcheck.Verdict) error
}

// Response is the moderation decision for a single message.
type Response struct {
	Allowed      bool             `json:"allowed"`
	Verdict      modcheck.Verdict `json:"verdict"`
	Warning      string           `json:"warning,omitempty"` // user-facing warning text
	Blocked      bool             `json:"blocked"`
	WarningCount int              `json:"warning_count"`
}

// NewGuard creates a new Guard with the given collaborators.
func NewGuard(detector Detector, sanctions Sanctions, vlog ViolationsLog, cfg Config) *Guard {
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = 1000
	}
	if cfg.BlockedMsg == "" {
		cfg.BlockedMsg = "You are temporarily blocked from sending messages"
	}
	if cfg.DryBlockMsg == "" {
		cfg.DryBlockMsg = cfg.BlockedMsg + " (dry mode)"
	}
	return &Guard{Detector: detector, Sanctions: sanctions, Log: vlog, Config: cfg}
}

// OnMessage runs the full pipeline for an outgoing message. Clean messages
// pass straight through; flagged ones are recorded, counted against the
// sender and suppressed once the sender crosses the block threshold.
func (g *Guard) OnMessage(ctx context.Context, req modcheck.Request) Response {
	verdict := g.Detector.Check(req)
	if !verdict.HasViolation() {
		return Response{Allowed: true, Verdict: verdict}
	}

	violationID := req.MsgID
	if violationID == "" {
		violationID = msgHash(req)
	}
	log.Printf("[INFO] violation detected for user %q, id:%s, %s", req.UserName, req.UserID, &verdict)

	if g.Log != nil {
		entry := storage.ViolationInfo{
			MsgID:     violationID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Text:      req.Msg,
			Timestamp: time.Now(),
		}
		if err := g.Log.Write(ctx, entry, verdict); err != nil {
			log.Printf("[WARN] can't persist violation %s: %v", violationID, err)
		}
	}

	if g.Dry {
		return Response{Allowed: true, Verdict: verdict, Warning: g.DryBlockMsg}
	}

	allowed, err := g.Sanctions.HandleViolation(ctx, req.UserID, violationID)
	if err != nil {
		// fail open: infrastructure trouble must not eat user messages
		log.Printf("[WARN] sanctions unavailable for %s, allowing message: %v", req.UserID, err)
		return Response{Allowed: true, Verdict: verdict}
	}

	count, err := g.Sanctions.ViolationCount(ctx, req.UserID)
	if err != nil {
		log.Printf("[WARN] can't get violation count for %s: %v", req.UserID, err)
	}

	if !allowed {
		return Response{Allowed: false, Blocked: true, Verdict: verdict, WarningCount: count, Warning: g.BlockedMsg}
	}
	return Response{
		Allowed:      true,
		Verdict:      verdict,
		WarningCount: count,
		Warning:      fmt.Sprintf("Warning: Your message contains inappropriate content. Warning %d/%d", count, g.MaxWarnings),
	}
}

// UserStatus returns the sender's current standing: blocked flag and warning count.
func (g *Guard) UserStatus(ctx context.Context, userID string) (blocked bool, warnings int, err error) {
	blocked, err = g.Sanctions.IsBlocked(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get block status for %s: %w", userID, err)
	}
	warnings, err = g.Sanctions.ViolationCount(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get violation count for %s: %w", userID, err)
	}
	return blocked, warnings, nil
}

// msgHash makes a stable violation id for messages sent without one
func msgHash(req modcheck.Request) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(req.UserID+":"+req.Msg+":"+time.Now().Format(time.RFC3339Nano))))[:16]
}
