package agencyauth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/agencyauth/password"
	"github.com/MrEthical07/agencyauth/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var nricPattern = regexp.MustCompile(`^[STFG]\d{7}[A-Z]$`)

const (
	maxNameLength   = 100
	maxResumeLength = 500
	maxWhoAmILength = 2000
)

// Register creates an unverified account and sends it a registration code.
//
// Checks run in order: bot verification, field validation, complexity, email
// uniqueness. When the email cannot be sent the account and code still stand
// and the code comes back in FallbackCode.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if err := e.verifyBot(ctx, req.BotToken, store.NormalizeEmail(req.Email)); err != nil {
		return nil, err
	}

	email, reason := e.validateRegistration(req)
	if reason != "" {
		e.metricInc(MetricRegistrationFailure)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, store.NormalizeEmail(req.Email), reason, ErrValidationFailed, nil)
		return nil, ErrValidationFailed
	}

	_, err := e.lookupByEmail(ctx, email)
	switch {
	case err == nil:
		e.metricInc(MetricRegistrationDuplicate)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, email, "duplicate_email", ErrAccountExists, nil)
		return nil, ErrAccountExists
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	nric, err := e.protector.Protect(strings.ToUpper(strings.TrimSpace(req.Profile.NRIC)))
	if err != nil {
		e.logger.Error("protect national id failed", zap.Error(err))
		return nil, unavailable(err)
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, unavailable(err)
	}

	now := e.now()
	account := &store.Account{
		ID:                    uuid.NewString(),
		Email:                 email,
		PasswordHash:          hash,
		PasswordHistory:       []string{hash},
		PasswordLastChanged:   now,
		PasswordExpiryDate:    now.Add(e.config.Policy.PasswordMaxAge),
		PasswordMinChangeDate: now.Add(e.config.Policy.MinChangeInterval),
		CreatedAt:             now,
		Profile: store.Profile{
			FirstName:   strings.TrimSpace(req.Profile.FirstName),
			LastName:    strings.TrimSpace(req.Profile.LastName),
			Gender:      strings.TrimSpace(req.Profile.Gender),
			NRIC:        nric,
			DateOfBirth: req.Profile.DateOfBirth,
			ResumePath:  req.Profile.ResumePath,
			WhoAmI:      req.Profile.WhoAmI,
		},
	}
	if err := e.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditEventRegistrationFailure, false, email, "duplicate_email", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
		return nil, unavailable(err)
	}

	vc, err := e.issueCode(ctx, email, CodeRegistration)
	if err != nil {
		e.logger.Error("registration code not persisted", zap.String("account_id", account.ID), zap.Error(err))
		return nil, err
	}
	sent, fallback := e.deliver(ctx, account.ID, vc)

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistrationSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{
			"code_sent": boolString(sent),
		}
	})

	return &RegisterResult{
		AccountID:    account.ID,
		Email:        email,
		CodeSent:     sent,
		FallbackCode: fallback,
		Strength:     password.Estimate(req.Password, emailLocalPart(email), req.Profile.FirstName, req.Profile.LastName),
	}, nil
}

// validateRegistration returns the normalized email or a short reason label.
func (e *Engine) validateRegistration(req RegisterRequest) (string, string) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return "", "invalid_email"
	}
	if req.Password != req.ConfirmPassword {
		return "", "password_mismatch"
	}
	if len(req.Password) > password.MaxPasswordBytes || !password.MeetsPolicy(req.Password, e.policy) {
		return "", "password_complexity"
	}

	p := req.Profile
	first := strings.TrimSpace(p.FirstName)
	last := strings.TrimSpace(p.LastName)
	switch {
	case first == "" || utf8.RuneCountInString(first) > maxNameLength:
		return "", "invalid_first_name"
	case last == "" || utf8.RuneCountInString(last) > maxNameLength:
		return "", "invalid_last_name"
	case !nricPattern.MatchString(strings.ToUpper(strings.TrimSpace(p.NRIC))):
		return "", "invalid_nric"
	case utf8.RuneCountInString(p.ResumePath) > maxResumeLength:
		return "", "invalid_resume_path"
	case utf8.RuneCountInString(p.WhoAmI) > maxWhoAmILength:
		return "", "invalid_who_am_i"
	case p.DateOfBirth.IsZero() || p.DateOfBirth.After(e.now()):
		return "", "invalid_date_of_birth"
	}
	return email, ""
}
