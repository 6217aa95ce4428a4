package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BudgetStatus string

const (
	BudgetStatusActive BudgetStatus = "active"
	BudgetStatusPaused BudgetStatus = "paused"
)

// BudgetPlan holds the customer-facing monthly price and the platform spend
// cap derived from it. Amounts are whole currency units.
type BudgetPlan struct {
	CustomerID      uuid.UUID       `json:"customer_id" db:"customer_id"`
	MonthlyPrice    decimal.Decimal `json:"monthly_price" db:"monthly_price"`
	MonthlySpendCap decimal.Decimal `json:"monthly_spend_cap" db:"monthly_spend_cap"`
	MarginPercent   decimal.Decimal `json:"margin_percent" db:"margin_percent"`
	Currency        string          `json:"currency" db:"currency"`
	PacingMode      string          `json:"pacing_mode" db:"pacing_mode"`
	Status          BudgetStatus    `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// OnboardingBudget is the budget the customer picked during onboarding.
type OnboardingBudget struct {
	CustomerID   uuid.UUID       `json:"customer_id" db:"customer_id"`
	MonthlyPrice decimal.Decimal `json:"monthly_price" db:"monthly_price"`
	Currency     string          `json:"currency" db:"currency"`
}
