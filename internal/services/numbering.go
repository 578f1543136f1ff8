package services

import (
	"fmt"
	"regexp"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// AllocateInvoiceNumber formats the next invoice number and returns the policy
// with its sequence advanced by one. The caller persists the new policy in the
// same transaction as the invoice that uses the number.
//
// Numbers look like INV-202501-045. The sequence is lifetime, not per period.
func AllocateInvoiceNumber(policy models.NumberingPolicy, issueDate time.Time) (string, models.NumberingPolicy, error) {
	if policy.NextSequence < 1 {
		return "", policy, apperrors.Newf(apperrors.KindInternal, "numbering sequence %d is not positive", policy.NextSequence)
	}
	period := policy.PeriodFormat
	if period == "" {
		period = models.DefaultPeriodFormat
	}

	number := fmt.Sprintf("%s-%s-%03d", policy.Prefix, issueDate.Format(period), policy.NextSequence)

	next := policy
	next.NextSequence++
	return number, next, nil
}

// ValidateNumberingPolicy checks an edited policy against the stored one.
// The sequence may move forward but never back.
func ValidateNumberingPolicy(current, updated models.NumberingPolicy) error {
	if !prefixPattern.MatchString(updated.Prefix) {
		return apperrors.Newf(apperrors.KindValidation, "prefix %q must be 1-16 letters or digits", updated.Prefix)
	}
	if updated.NextSequence < current.NextSequence {
		return apperrors.Newf(apperrors.KindValidation, "next sequence cannot move back from %d to %d", current.NextSequence, updated.NextSequence)
	}
	if updated.DueInDays < 0 || updated.DueInDays > 365 {
		return apperrors.Newf(apperrors.KindInvalidDateRange, "due in days must be between 0 and 365, got %d", updated.DueInDays)
	}
	if err := ValidateRate("default tax rate", updated.DefaultTaxRate); err != nil {
		return err
	}
	if err := money.ValidateCurrency(updated.Currency); err != nil {
		return err
	}
	return nil
}
