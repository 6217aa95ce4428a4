package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"adsync/jobs"
	"adsync/models"
)

const (
	DefaultMarginPercent = 30
	DefaultPacingMode    = "standard"
	daysPerMonth         = 30
	minorUnitsPerMajor   = 100
)

// BudgetStore is the persistence the budget deriver needs.
type BudgetStore interface {
	GetBudgetPlan(ctx context.Context, customerID uuid.UUID) (*models.BudgetPlan, error)
	GetOnboardingBudget(ctx context.Context, customerID uuid.UUID) (*models.OnboardingBudget, error)
	CreateBudgetPlan(ctx context.Context, plan *models.BudgetPlan) error
}

// Budget is a plan with its derived platform amounts.
type Budget struct {
	Plan       *models.BudgetPlan
	MonthlyCap decimal.Decimal
	DailyMinor int64
}

// BudgetDeriver turns the customer-facing monthly price into a platform
// daily budget.
type BudgetDeriver struct {
	store         BudgetStore
	minDailyMinor int64
	now           func() time.Time
}

func NewBudgetDeriver(store BudgetStore, minDailyMinor int64) *BudgetDeriver {
	return &BudgetDeriver{store: store, minDailyMinor: minDailyMinor, now: time.Now}
}

// Resolve returns the customer's plan, creating it from onboarding data
// when none exists yet.
func (d *BudgetDeriver) Resolve(ctx context.Context, customerID uuid.UUID) (*models.BudgetPlan, error) {
	plan, err := d.store.GetBudgetPlan(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get budget plan: %w", err)
	}
	if plan != nil {
		return plan, nil
	}

	onboarding, err := d.store.GetOnboardingBudget(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get onboarding budget: %w", err)
	}
	if onboarding == nil || !onboarding.MonthlyPrice.IsPositive() {
		return nil, jobs.Failf(jobs.KindMissingPrerequisite,
			"No monthly ad budget has been chosen. Complete the budget step in onboarding and publish again.")
	}

	plan = NewBudgetPlan(customerID, onboarding.MonthlyPrice, onboarding.Currency, d.now())
	if err := d.store.CreateBudgetPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("create budget plan: %w", err)
	}
	return plan, nil
}

// NewBudgetPlan builds a plan with the default margin and pacing.
func NewBudgetPlan(customerID uuid.UUID, monthlyPrice decimal.Decimal, currency string, now time.Time) *models.BudgetPlan {
	margin := decimal.NewFromInt(DefaultMarginPercent)
	return &models.BudgetPlan{
		CustomerID:      customerID,
		MonthlyPrice:    monthlyPrice,
		MonthlySpendCap: monthlyPrice.Mul(capRatio(margin)),
		MarginPercent:   margin,
		Currency:        currency,
		PacingMode:      DefaultPacingMode,
		Status:          models.BudgetStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func capRatio(marginPercent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(marginPercent.Div(decimal.NewFromInt(100)))
}

// Derive computes the monthly cap and the daily budget in minor units,
// rounded down.
func Derive(plan *models.BudgetPlan) Budget {
	monthlyCap := plan.MonthlySpendCap
	if !monthlyCap.IsPositive() {
		monthlyCap = plan.MonthlyPrice.Mul(capRatio(plan.MarginPercent))
	}
	daily := monthlyCap.
		Mul(decimal.NewFromInt(minorUnitsPerMajor)).
		Div(decimal.NewFromInt(daysPerMonth)).
		Floor()
	return Budget{Plan: plan, MonthlyCap: monthlyCap, DailyMinor: daily.IntPart()}
}

// Budget resolves and derives the customer's budget, failing when the
// plan is paused or the daily amount is below the configured floor.
func (d *BudgetDeriver) Budget(ctx context.Context, customerID uuid.UUID) (*Budget, error) {
	plan, err := d.Resolve(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if plan.Status == models.BudgetStatusPaused {
		return nil, jobs.Failf(jobs.KindValidation,
			"Your ad budget is paused. Resume it under billing settings before publishing.")
	}

	budget := Derive(plan)
	if budget.DailyMinor < d.minDailyMinor {
		return nil, jobs.Failf(jobs.KindConfig,
			"The derived daily budget of %s %s is below the minimum of %s %s. Raise the monthly price or lower ADS_MIN_DAILY_BUDGET_MINOR.",
			formatMinor(budget.DailyMinor), plan.Currency, formatMinor(d.minDailyMinor), plan.Currency)
	}
	return &budget, nil
}

func formatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
