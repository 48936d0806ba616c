package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// appTokenLifetime matches the consent horizon: a rotated application token
// stays valid for one year.
const appTokenLifetime = 365 * 24 * time.Hour

// Issuer mints dataset access tokens when a dataset reaches fully-approved
// and rotates application-level bearer tokens on demand.
type Issuer struct {
	store      TokenStore
	datasetGen Generator
	appGen     Generator
	logger     *slog.Logger
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

func WithDatasetGenerator(g Generator) IssuerOption {
	return func(i *Issuer) { i.datasetGen = g }
}

func WithAppGenerator(g Generator) IssuerOption {
	return func(i *Issuer) { i.appGen = g }
}

func WithLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) { i.logger = l }
}

func NewIssuer(store TokenStore, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:      store,
		datasetGen: UUIDGenerator{},
		appGen:     RandomGenerator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// IssueDatasetToken returns the access token for a fully-approved dataset.
// Issuance is idempotent: once a token exists for the (application, dataset)
// pair it is returned unchanged on every subsequent call, regardless of how
// many times the dataset re-enters the fully-approved state.
func (i *Issuer) IssueDatasetToken(ctx context.Context, appID, dataset string) (string, error) {
	if appID == "" || dataset == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "application id and dataset are required")
	}

	if existing, err := i.store.GetDatasetToken(ctx, appID, dataset); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", fmt.Errorf("could not look up dataset token: %w", err)
	}

	candidate, err := i.datasetGen.Generate()
	if err != nil {
		return "", fmt.Errorf("could not generate dataset token: %w", err)
	}

	// The store arbitrates races; the first writer's token wins.
	token, err := i.store.PutDatasetTokenIfAbsent(ctx, appID, dataset, candidate)
	if err != nil {
		return "", fmt.Errorf("could not persist dataset token: %w", err)
	}
	if token == candidate {
		i.logger.InfoContext(ctx, "dataset token issued",
			slog.String("app_id", appID),
			slog.String("dataset", dataset),
		)
	}
	return token, nil
}

// DatasetToken returns the already-issued token for a dataset, or "" when
// none has been minted. Read-only; it never mints.
func (i *Issuer) DatasetToken(ctx context.Context, appID, dataset string) (string, error) {
	token, err := i.store.GetDatasetToken(ctx, appID, dataset)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("could not look up dataset token: %w", err)
	}
	return token, nil
}

// RegenerateAppToken rotates the application-level bearer token. The
// plaintext is returned exactly once; only the bcrypt hash is kept at rest.
// The previous token stops verifying immediately.
func (i *Issuer) RegenerateAppToken(ctx context.Context, appID string) (string, AppToken, error) {
	if appID == "" {
		return "", AppToken{}, dErrors.New(dErrors.CodeInvalidInput, "application id is required")
	}

	plaintext, err := i.appGen.Generate()
	if err != nil {
		return "", AppToken{}, fmt.Errorf("could not generate application token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", AppToken{}, fmt.Errorf("could not hash application token: %w", err)
	}

	now := requestcontext.Now(ctx)
	record := AppToken{
		AppID:     appID,
		Hash:      hash,
		RotatedAt: now,
		ExpiresAt: now.Add(appTokenLifetime),
	}
	if err := i.store.PutAppToken(ctx, record); err != nil {
		return "", AppToken{}, fmt.Errorf("could not persist application token: %w", err)
	}

	i.logger.InfoContext(ctx, "application token rotated", slog.String("app_id", appID))
	return plaintext, record, nil
}

// VerifyAppToken checks a presented bearer token against the stored hash.
func (i *Issuer) VerifyAppToken(ctx context.Context, appID, token string) error {
	record, err := i.store.GetAppToken(ctx, appID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeUnauthorized, "no token issued for application")
	}
	if err != nil {
		return fmt.Errorf("could not look up application token: %w", err)
	}

	if requestcontext.Now(ctx).After(record.ExpiresAt) {
		return dErrors.New(dErrors.CodeUnauthorized, "application token has expired")
	}
	if err := bcrypt.CompareHashAndPassword(record.Hash, []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid application token")
		}
		return fmt.Errorf("could not verify application token: %w", err)
	}
	return nil
}
