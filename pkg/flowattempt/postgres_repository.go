package flowattempt

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayhq/relay-auth/pkg/errors"
)

const uniqueViolationCode = "23505"

// PostgresAttemptRepository implements AttemptRepository using PostgreSQL.
// The guarded transitions use conditional UPDATE/DELETE statements so that
// concurrent callers race on row-level locks instead of application state.
//
// Expected schema:
//
//	CREATE TABLE auth_flow_attempt (
//	    csrf_token                    TEXT PRIMARY KEY,
//	    client_id                     TEXT NOT NULL,
//	    response_type                 TEXT NOT NULL,
//	    scope                         TEXT NOT NULL,
//	    redirect_uri                  TEXT NOT NULL,
//	    state                         TEXT NOT NULL DEFAULT '',
//	    code_challenge                TEXT NOT NULL DEFAULT '',
//	    code_challenge_method         TEXT NOT NULL DEFAULT '',
//	    user_id                       TEXT NOT NULL DEFAULT '',
//	    external_provider             TEXT NOT NULL DEFAULT '',
//	    external_provider_state       TEXT NOT NULL DEFAULT '',
//	    confirmation_code             TEXT NOT NULL DEFAULT '',
//	    confirmation_contact          TEXT NOT NULL DEFAULT '',
//	    confirmation_code_created_at  TIMESTAMPTZ,
//	    authorization_code            TEXT UNIQUE,
//	    authorization_code_created_at TIMESTAMPTZ,
//	    created_at                    TIMESTAMPTZ NOT NULL,
//	    expires_at                    TIMESTAMPTZ NOT NULL
//	);
type PostgresAttemptRepository struct {
	db *pgxpool.Pool
}

// NewPostgresAttemptRepository creates a new PostgreSQL attempt repository
func NewPostgresAttemptRepository(db *pgxpool.Pool) (*PostgresAttemptRepository, error) {
	if db == nil {
		return nil, errors.Internal("database connection cannot be nil")
	}
	return &PostgresAttemptRepository{db: db}, nil
}

const attemptColumns = `csrf_token, client_id, response_type, scope, redirect_uri, state,
	code_challenge, code_challenge_method, user_id, external_provider, external_provider_state,
	confirmation_code, confirmation_contact, confirmation_code_created_at, authorization_code, authorization_code_created_at,
	created_at, expires_at`

func scanAttempt(row pgx.Row) (*AuthFlowAttempt, error) {
	var attempt AuthFlowAttempt
	var confirmationCreated, codeCreated *time.Time
	var authorizationCode *string
	err := row.Scan(
		&attempt.CSRFToken, &attempt.ClientID, &attempt.ResponseType, &attempt.Scope,
		&attempt.RedirectURI, &attempt.State, &attempt.CodeChallenge, &attempt.CodeChallengeMethod,
		&attempt.UserID, &attempt.ExternalProvider, &attempt.ExternalProviderState,
		&attempt.ConfirmationCode, &attempt.ConfirmationContact, &confirmationCreated, &authorizationCode, &codeCreated,
		&attempt.CreatedAt, &attempt.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if confirmationCreated != nil {
		attempt.ConfirmationCodeCreatedAt = *confirmationCreated
	}
	if authorizationCode != nil {
		attempt.AuthorizationCode = *authorizationCode
	}
	if codeCreated != nil {
		attempt.AuthorizationCodeCreatedAt = *codeCreated
	}
	return &attempt, nil
}

// Create conditionally inserts an attempt keyed by CSRF token
func (r *PostgresAttemptRepository) Create(ctx context.Context, attempt *AuthFlowAttempt) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO auth_flow_attempt (csrf_token, client_id, response_type, scope, redirect_uri, state,
			code_challenge, code_challenge_method, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (csrf_token) DO NOTHING`,
		attempt.CSRFToken, attempt.ClientID, attempt.ResponseType, attempt.Scope,
		attempt.RedirectURI, attempt.State, attempt.CodeChallenge, attempt.CodeChallengeMethod,
		attempt.CreatedAt, attempt.ExpiresAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to insert flow attempt")
	}
	if tag.RowsAffected() == 0 {
		return errors.AlreadyExists("flow attempt", attempt.CSRFToken)
	}
	return nil
}

// GetByToken fails NotFound if absent or logically expired
func (r *PostgresAttemptRepository) GetByToken(ctx context.Context, csrfToken string) (*AuthFlowAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM auth_flow_attempt
		WHERE csrf_token = $1 AND expires_at > now()`, csrfToken))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("flow attempt", "csrf token")
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to get flow attempt")
	}
	return attempt, nil
}

// GetByAuthorizationCode looks up the attempt holding an issued code
func (r *PostgresAttemptRepository) GetByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM auth_flow_attempt
		WHERE authorization_code = $1 AND expires_at > now()`, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("flow attempt", "authorization code")
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to get flow attempt")
	}
	return attempt, nil
}

// Update merges the non-nil fields of params into the attempt. ExpiresAt is
// never touched.
func (r *PostgresAttemptRepository) Update(ctx context.Context, csrfToken string, params UpdateParams) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE auth_flow_attempt SET
			user_id = COALESCE($2, user_id),
			external_provider = COALESCE($3, external_provider),
			external_provider_state = COALESCE($4, external_provider_state),
			confirmation_code = COALESCE($5, confirmation_code),
			confirmation_contact = COALESCE($6, confirmation_contact),
			confirmation_code_created_at = COALESCE($7, confirmation_code_created_at)
		WHERE csrf_token = $1 AND expires_at > now()`,
		csrfToken, params.UserID, params.ExternalProvider, params.ExternalProviderState,
		params.ConfirmationCode, params.ConfirmationContact, params.ConfirmationCodeCreatedAt)
	if err != nil {
		return errors.InternalWrap(err, "failed to update flow attempt")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("flow attempt", "csrf token")
	}
	return nil
}

// IssueAuthorizationCode performs the guarded, atomic code-issuance
// transition. The guard predicates fold into the UPDATE's WHERE clause so a
// concurrent double-submit leaves exactly one winner; the unique constraint
// on authorization_code surfaces cross-attempt collisions as Conflict.
func (r *PostgresAttemptRepository) IssueAuthorizationCode(ctx context.Context, csrfToken string, params IssueCodeParams) error {
	query := `
		UPDATE auth_flow_attempt SET
			user_id = $2,
			authorization_code = $3,
			authorization_code_created_at = now(),
			confirmation_code = '',
			confirmation_contact = ''
		WHERE csrf_token = $1 AND expires_at > now() AND authorization_code IS NULL`
	args := []any{csrfToken, params.UserID, params.Code}

	if params.RequireConfirmationCode != nil {
		query += ` AND confirmation_code <> '' AND confirmation_code = $4`
		args = append(args, *params.RequireConfirmationCode)
		if params.RequireConfirmationContact != nil {
			query += ` AND confirmation_contact = $5`
			args = append(args, *params.RequireConfirmationContact)
		}
	} else if params.RequireExternalState != nil {
		query += ` AND external_provider_state <> '' AND external_provider_state = $4`
		args = append(args, *params.RequireExternalState)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return errors.New(errors.ErrCodeConflict, "authorization code collision")
		}
		return errors.InternalWrap(err, "failed to issue authorization code")
	}
	if tag.RowsAffected() == 0 {
		return r.classifyIssueFailure(ctx, csrfToken, params)
	}
	return nil
}

// classifyIssueFailure re-reads the row to turn a zero-row guarded UPDATE
// into the specific failure the caller needs to map
func (r *PostgresAttemptRepository) classifyIssueFailure(ctx context.Context, csrfToken string, params IssueCodeParams) error {
	attempt, err := r.GetByToken(ctx, csrfToken)
	if err != nil {
		return err
	}
	if attempt.AuthorizationCode != "" {
		return errors.New(errors.ErrCodeCodeConsumed, "authorization code already issued for this attempt")
	}
	if params.RequireConfirmationCode != nil {
		return errors.New(errors.ErrCodeConfirmMismatch, "confirmation code does not match")
	}
	if params.RequireExternalState != nil {
		return errors.New(errors.ErrCodeStateMismatch, "external provider state does not match")
	}
	return errors.NotFound("flow attempt", "csrf token")
}

// ConsumeByAuthorizationCode atomically fetches and deletes the attempt
// holding the code via DELETE ... RETURNING
func (r *PostgresAttemptRepository) ConsumeByAuthorizationCode(ctx context.Context, code string) (*AuthFlowAttempt, error) {
	attempt, err := scanAttempt(r.db.QueryRow(ctx, `
		DELETE FROM auth_flow_attempt
		WHERE authorization_code = $1 AND expires_at > now()
		RETURNING `+attemptColumns, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("flow attempt", "authorization code")
	}
	if err != nil {
		return nil, errors.InternalWrap(err, "failed to consume authorization code")
	}
	return attempt, nil
}

// Delete removes an attempt; idempotent
func (r *PostgresAttemptRepository) Delete(ctx context.Context, csrfToken string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM auth_flow_attempt WHERE csrf_token = $1`, csrfToken)
	if err != nil {
		return errors.InternalWrap(err, "failed to delete flow attempt")
	}
	return nil
}

// DeleteExpired sweeps attempts past their TTL
func (r *PostgresAttemptRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_flow_attempt WHERE expires_at <= now()`)
	if err != nil {
		return 0, errors.InternalWrap(err, "failed to sweep expired flow attempts")
	}
	return int(tag.RowsAffected()), nil
}
