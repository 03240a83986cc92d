package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/jobqueue"
	"github.com/smallbiznis/staybook/internal/observability/masking"
	obsmetrics "github.com/smallbiznis/staybook/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ActionRegister      = "register"
	ActionResetPassword = "reset_password"
)

const (
	challengePrefix    = "otp:code:"
	statePrefix        = "otp:state:"
	resetTokenPrefix   = "otp:reset:token:"
	resetSubjectPrefix = "otp:reset:subject:"

	codeDigits     = 6
	resetTokenSize = 32
)

// VerifyResult is the outcome of one verification attempt. RetryAfter is
// set while the challenge is blocked or when this attempt triggered a block.
type VerifyResult struct {
	Success    bool
	RetryAfter time.Duration
}

type Params struct {
	fx.In

	Redis      redis.UniversalClient
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Policy     *config.PolicyHolder
	Jobs       jobqueue.Enqueuer
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service issues and verifies one-time codes per (action, subject) and
// hands out single-use password reset tokens.
type Service struct {
	client     redis.UniversalClient
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.PolicyHolder
	jobs       jobqueue.Enqueuer
	obsMetrics *obsmetrics.Metrics

	codeTTL       time.Duration
	resetTokenTTL time.Duration

	issue        *redis.Script
	verify       *redis.Script
	issueReset   *redis.Script
	consumeReset *redis.Script

	newCode func() (string, error)
}

func New(p Params) *Service {
	codeTTL := p.Config.OTP.CodeTTL
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}
	resetTTL := p.Config.OTP.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = 15 * time.Minute
	}
	return &Service{
		client:        p.Redis,
		log:           p.Log.Named("otp.service"),
		clock:         p.Clock,
		policy:        p.Policy,
		jobs:          p.Jobs,
		obsMetrics:    p.ObsMetrics,
		codeTTL:       codeTTL,
		resetTokenTTL: resetTTL,
		issue:         redis.NewScript(issueScript),
		verify:        redis.NewScript(verifyScript),
		issueReset:    redis.NewScript(issueResetScript),
		consumeReset:  redis.NewScript(consumeResetScript),
		newCode:       randomCode,
	}
}

// Issue stores a fresh code for the key and queues its delivery. A second
// issue inside the resend cooldown fails with a RateLimitError.
func (s *Service) Issue(ctx context.Context, action, subject string) error {
	action, subject, err := normalizeKey(action, subject)
	if err != nil {
		return err
	}
	code, err := s.newCode()
	if err != nil {
		return err
	}

	now := s.clock.Now()
	cooldown := s.policy.OTP().ResendCooldown()
	key := challengeKey(action, subject)
	remaining, err := s.issue.Run(ctx, s.client, []string{key},
		now.UnixMilli(), code, s.codeTTL.Milliseconds(), cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return err
	}
	if remaining > 0 {
		s.obsMetrics.RecordOTPEvent(ctx, action, "resend_blocked")
		return &RateLimitError{Code: ErrResendBlocked, RetryAfter: time.Duration(remaining) * time.Millisecond}
	}

	err = s.jobs.Enqueue(ctx, jobqueue.SendOTPEmail{
		Action:    action,
		Email:     subject,
		Code:      code,
		ExpiresAt: now.Add(s.codeTTL),
	})
	if err != nil {
		// Without delivery the caller must be able to ask again right away.
		if delErr := s.client.Del(ctx, key).Err(); delErr != nil {
			s.log.Warn("otp.issue.rollback_failed", zap.String("action", action), zap.Error(delErr))
		}
		return fmt.Errorf("enqueue otp email: %w", err)
	}

	s.obsMetrics.RecordOTPEvent(ctx, action, "issued")
	s.log.Info("otp.issued", zap.String("action", action), zap.String("subject", masking.MaskEmail(subject)))
	return nil
}

// Verify checks code against the active challenge. Blocked challenges
// report the remaining block without counting the attempt.
func (s *Service) Verify(ctx context.Context, action, subject, code string) (VerifyResult, error) {
	action, subject, err := normalizeKey(action, subject)
	if err != nil {
		return VerifyResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return VerifyResult{}, ErrInvalidCode
	}

	policy := s.policy.OTP()
	args := []any{
		s.clock.Now().UnixMilli(),
		code,
		policy.FailWindow().Milliseconds(),
		len(policy.Escalation),
	}
	for _, step := range policy.Escalation {
		args = append(args, step.FailThreshold, int64(step.BlockSeconds)*1000)
	}

	res, err := s.verify.Run(ctx, s.client,
		[]string{challengeKey(action, subject), stateKey(action, subject)}, args...,
	).Int64Slice()
	if err != nil {
		return VerifyResult{}, err
	}
	if len(res) != 2 {
		return VerifyResult{}, errors.New("otp verify: unexpected script reply")
	}

	retry := time.Duration(res[1]) * time.Millisecond
	switch res[0] {
	case 1:
		s.obsMetrics.RecordOTPEvent(ctx, action, "verified")
		return VerifyResult{Success: true}, nil
	case -1:
		s.obsMetrics.RecordOTPEvent(ctx, action, "blocked")
		return VerifyResult{RetryAfter: retry}, nil
	default:
		outcome := "mismatch"
		if retry > 0 {
			outcome = "escalated"
			s.log.Warn("otp.verify.blocked", zap.String("action", action), zap.Duration("retry_after", retry))
		}
		s.obsMetrics.RecordOTPEvent(ctx, action, outcome)
		return VerifyResult{RetryAfter: retry}, nil
	}
}

// IssueResetToken returns an opaque single-use token for subject. Only its
// sha256 is stored; issuing again revokes the previous token.
func (s *Service) IssueResetToken(ctx context.Context, subject string) (string, error) {
	_, subject, err := normalizeKey(ActionResetPassword, subject)
	if err != nil {
		return "", err
	}
	raw := make([]byte, resetTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	digest := hashToken(token)

	err = s.issueReset.Run(ctx, s.client,
		[]string{resetTokenPrefix + digest, resetSubjectPrefix + subject},
		digest, subject, s.clock.Now().UnixMilli(), s.resetTokenTTL.Milliseconds(), resetTokenPrefix,
	).Err()
	if err != nil {
		return "", err
	}
	s.obsMetrics.RecordOTPEvent(ctx, ActionResetPassword, "reset_token_issued")
	return token, nil
}

// ConsumeResetToken redeems token once and clears every reset artifact of
// its subject, including the reset_password challenge.
func (s *Service) ConsumeResetToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidResetToken
	}
	digest := hashToken(token)

	subject, err := s.consumeReset.Run(ctx, s.client,
		[]string{resetTokenPrefix + digest},
		s.clock.Now().UnixMilli(),
		digest,
		resetSubjectPrefix,
		challengePrefix+ActionResetPassword+":",
		statePrefix+ActionResetPassword+":",
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", err
	}
	s.obsMetrics.RecordOTPEvent(ctx, ActionResetPassword, "reset_token_consumed")
	return subject, nil
}

func normalizeKey(action, subject string) (string, string, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	switch action {
	case ActionRegister, ActionResetPassword:
	default:
		return "", "", ErrInvalidAction
	}
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" || !strings.Contains(subject, "@") {
		return "", "", ErrInvalidSubject
	}
	return action, subject, nil
}

func challengeKey(action, subject string) string {
	return challengePrefix + action + ":" + subject
}

func stateKey(action, subject string) string {
	return statePrefix + action + ":" + subject
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
