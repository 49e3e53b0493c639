package paymentintents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-payments/internal/fees"
	"github.com/angelmondragon/marketplace-payments/internal/orders"
	"github.com/angelmondragon/marketplace-payments/pkg/db"
	"github.com/angelmondragon/marketplace-payments/pkg/db/models"
	"github.com/angelmondragon/marketplace-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/metrics"
	"github.com/angelmondragon/marketplace-payments/pkg/payments"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultProviderTimeout = 15 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SetProviderRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, provider enums.PaymentProvider, ref string) error
}

// AdHocInput is the legacy request shape: a bare amount with optional ids the
// webhook path can later use to reconstruct an order.
type AdHocInput struct {
	AmountCents int64
	Currency    string
	ListingID   *uuid.UUID
	BuyerID     *uuid.UUID
	SellerID    *uuid.UUID
}

// Input selects either the order path (OrderID) or the ad hoc path.
type Input struct {
	OrderID            *uuid.UUID
	AdHoc              *AdHocInput
	IdempotencyKey     string
	ConnectedAccountID string
	Provider           string
	SourceID           string
}

// Result is what the client needs to confirm the charge.
type Result struct {
	OrderID         *uuid.UUID            `json:"orderId,omitempty"`
	Provider        enums.PaymentProvider `json:"provider"`
	AuthorizationID string                `json:"authorizationId"`
	ClientSecret    string                `json:"clientSecret"`
	Breakdown       fees.Breakdown        `json:"breakdown"`
	Reused          bool                  `json:"reused"`
}

// Service opens provider charge authorizations for orders.
type Service interface {
	CreateChargeAuthorization(ctx context.Context, input Input) (*Result, error)
}

// ServiceParams groups the orchestrator collaborators.
type ServiceParams struct {
	Repo            Repository
	Tx              txRunner
	Orders          orderStore
	Providers       *payments.Registry
	Fees            fees.Calculator
	Currency        string
	ProviderTimeout time.Duration
	Metrics         *metrics.PaymentMetrics
	Logger          *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	orders    orderStore
	providers *payments.Registry
	fees      fees.Calculator
	currency  string
	timeout   time.Duration
	metrics   *metrics.PaymentMetrics
	logg      *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("authorization repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Providers == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	timeout := p.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:      p.Repo,
		tx:        p.Tx,
		orders:    p.Orders,
		providers: p.Providers,
		fees:      p.Fees,
		currency:  currency,
		timeout:   timeout,
		metrics:   p.Metrics,
		logg:      p.Logger,
	}, nil
}

func (s *service) CreateChargeAuthorization(ctx context.Context, input Input) (*Result, error) {
	switch {
	case input.OrderID != nil && input.AdHoc != nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide either orderId or amount, not both")
	case input.OrderID != nil:
		return s.forOrder(ctx, *input.OrderID, input)
	case input.AdHoc != nil:
		return s.adHoc(ctx, *input.AdHoc, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId or amount required")
	}
}

func (s *service) forOrder(ctx context.Context, orderID uuid.UUID, input Input) (*Result, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeOrderAlreadyProcessed, "order is no longer pending").
			WithDetails(map[string]any{"status": order.Status})
	}

	breakdown, err := s.fees.Calculate(order.SubtotalCents)
	if err != nil {
		return nil, err
	}
	if !breakdown.Equal(orders.BreakdownOf(order)) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order amounts no longer match the fee schedule").
			WithDetails(map[string]any{"stored": orders.BreakdownOf(order), "computed": breakdown})
	}

	existing, err := s.repo.FindActiveByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active authorization")
	}
	if existing != nil {
		return s.reuse(ctx, existing)
	}

	provider, err := s.provider(input.Provider)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = fmt.Sprintf("order:%s:authorization", order.ID)
	}

	meta := payments.OrderMetadata{
		OrderID:            &order.ID,
		BuyerID:            &order.BuyerID,
		SellerID:           &order.SellerID,
		ListingID:          &order.ListingID,
		SubtotalCents:      breakdown.SubtotalCents,
		ServiceFeeCents:    breakdown.ServiceFeeCents,
		ProcessingFeeCents: breakdown.ProcessingFeeCents,
		TotalCents:         breakdown.TotalCents,
	}
	auth, err := s.createWithTimeout(ctx, provider, s.params(breakdown, order.Currency, meta, key, input))
	if err != nil {
		return nil, err
	}

	row := s.row(&order.ID, provider.Name(), auth, key, breakdown, order.Currency, input.ConnectedAccountID)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			return err
		}
		return s.orders.SetProviderRef(ctx, tx, order.ID, provider.Name(), auth.ID)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// A concurrent request for the same order won the insert.
			winner, findErr := s.repo.FindActiveByOrder(ctx, order.ID)
			if findErr == nil {
				return s.reuse(ctx, winner)
			}
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store authorization")
	}

	s.metrics.IncAuthorization(string(provider.Name()), "created")
	s.log(ctx, provider.Name(), &order.ID, auth.ID, "charge authorization created")
	return &Result{
		OrderID:         &order.ID,
		Provider:        provider.Name(),
		AuthorizationID: auth.ID,
		ClientSecret:    auth.ClientSecret,
		Breakdown:       breakdown,
	}, nil
}

func (s *service) adHoc(ctx context.Context, in AdHocInput, input Input) (*Result, error) {
	breakdown, err := s.fees.Calculate(in.AmountCents)
	if err != nil {
		return nil, err
	}
	provider, err := s.provider(input.Provider)
	if err != nil {
		return nil, err
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.currency
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = "adhoc:" + uuid.NewString()
	}

	meta := payments.OrderMetadata{
		BuyerID:            in.BuyerID,
		SellerID:           in.SellerID,
		ListingID:          in.ListingID,
		SubtotalCents:      breakdown.SubtotalCents,
		ServiceFeeCents:    breakdown.ServiceFeeCents,
		ProcessingFeeCents: breakdown.ProcessingFeeCents,
		TotalCents:         breakdown.TotalCents,
	}
	auth, err := s.createWithTimeout(ctx, provider, s.params(breakdown, currency, meta, key, input))
	if err != nil {
		return nil, err
	}

	row := s.row(nil, provider.Name(), auth, key, breakdown, currency, input.ConnectedAccountID)
	if err := s.repo.Create(ctx, row); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store authorization")
		}
		// Same idempotency key replayed: the provider returned the same charge.
		if _, findErr := s.repo.FindByProviderRef(ctx, provider.Name(), auth.ID); findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load authorization")
		}
		s.metrics.IncAuthorization(string(provider.Name()), "reused")
		return &Result{
			Provider:        provider.Name(),
			AuthorizationID: auth.ID,
			ClientSecret:    auth.ClientSecret,
			Breakdown:       breakdown,
			Reused:          true,
		}, nil
	}

	s.metrics.IncAuthorization(string(provider.Name()), "created")
	s.log(ctx, provider.Name(), nil, auth.ID, "ad hoc charge authorization created")
	return &Result{
		Provider:        provider.Name(),
		AuthorizationID: auth.ID,
		ClientSecret:    auth.ClientSecret,
		Breakdown:       breakdown,
	}, nil
}

// reuse returns the order's existing authorization, refreshing the client
// secret from the provider when it can.
func (s *service) reuse(ctx context.Context, row *models.PaymentAuthorization) (*Result, error) {
	provider, err := s.providers.Get(row.Provider)
	if err != nil {
		return nil, err
	}
	secret := row.ClientSecret
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	auth, err := provider.RetrieveAuthorization(callCtx, row.ProviderRef)
	if err != nil {
		s.metrics.IncAuthorization(string(row.Provider), "failed")
		return nil, asProviderError(err, "retrieve authorization")
	}
	if auth.ClientSecret != "" {
		secret = auth.ClientSecret
	}

	s.metrics.IncAuthorization(string(row.Provider), "reused")
	s.log(ctx, row.Provider, row.OrderID, row.ProviderRef, "charge authorization reused")
	return &Result{
		OrderID:         row.OrderID,
		Provider:        row.Provider,
		AuthorizationID: row.ProviderRef,
		ClientSecret:    secret,
		Breakdown: fees.Breakdown{
			SubtotalCents:      row.SubtotalCents,
			ServiceFeeCents:    row.ServiceFeeCents,
			ProcessingFeeCents: row.ProcessingFeeCents,
			TotalCents:         row.TotalCents,
		},
		Reused: true,
	}, nil
}

func (s *service) provider(name string) (payments.Provider, error) {
	var parsed enums.PaymentProvider
	if strings.TrimSpace(name) != "" {
		p, err := enums.ParsePaymentProvider(name)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment provider")
		}
		parsed = p
	}
	return s.providers.Get(parsed)
}

func (s *service) params(b fees.Breakdown, currency string, meta payments.OrderMetadata, key string, input Input) payments.CreateAuthorizationParams {
	params := payments.CreateAuthorizationParams{
		AmountCents:    b.TotalCents,
		Currency:       currency,
		Metadata:       meta.Map(),
		IdempotencyKey: key,
		SourceID:       strings.TrimSpace(input.SourceID),
	}
	if account := strings.TrimSpace(input.ConnectedAccountID); account != "" {
		params.ConnectedAccountID = account
		params.ApplicationFee = b.PlatformFeeCents()
	}
	return params
}

func (s *service) createWithTimeout(ctx context.Context, provider payments.Provider, params payments.CreateAuthorizationParams) (*payments.Authorization, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	auth, err := provider.CreateAuthorization(callCtx, params)
	if err != nil {
		s.metrics.IncAuthorization(string(provider.Name()), "failed")
		if s.logg != nil {
			logCtx := s.logg.WithProvider(ctx, string(provider.Name()))
			s.logg.Error(logCtx, "create charge authorization failed", err)
		}
		return nil, asProviderError(err, "create authorization")
	}
	if auth == nil || auth.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "provider returned no authorization")
	}
	return auth, nil
}

func (s *service) row(orderID *uuid.UUID, provider enums.PaymentProvider, auth *payments.Authorization, key string, b fees.Breakdown, currency, account string) *models.PaymentAuthorization {
	row := &models.PaymentAuthorization{
		ID:                 uuid.New(),
		OrderID:            orderID,
		Provider:           provider,
		ProviderRef:        auth.ID,
		ClientSecret:       auth.ClientSecret,
		IdempotencyKey:     key,
		SubtotalCents:      b.SubtotalCents,
		ServiceFeeCents:    b.ServiceFeeCents,
		ProcessingFeeCents: b.ProcessingFeeCents,
		TotalCents:         b.TotalCents,
		Currency:           currency,
		Status:             enums.AuthorizationStatusActive,
	}
	if account = strings.TrimSpace(account); account != "" {
		row.ConnectedAccountID = &account
	}
	return row
}

func (s *service) log(ctx context.Context, provider enums.PaymentProvider, orderID *uuid.UUID, ref, msg string) {
	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"provider":         provider,
		"authorization_id": ref,
	}
	if orderID != nil {
		fields["order_id"] = orderID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

// asProviderError keeps typed validation errors from the adapter and maps
// everything else (timeouts included) to PROVIDER_ERROR.
func asProviderError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeValidation, pkgerrors.CodeInvalidAmount, pkgerrors.CodeProvider:
			return typed
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, err, action)
}
