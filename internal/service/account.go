package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/ayo6706/personal-ledger/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const accountNumberAttempts = 8

var ErrInvalidHolderName = errors.New("holder name must be at least 3 characters")

// AccountStore is the persistence AccountService needs. Both ledger stores
// implement it.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByUserID(ctx context.Context, userID uuid.UUID) (*models.Account, error)
}

type AccountService struct {
	store  AccountStore
	agency string
	intn   func(n int) int
}

func NewAccountService(store AccountStore, agency string) *AccountService {
	if strings.TrimSpace(agency) == "" {
		agency = domain.DefaultAgency
	}
	return &AccountService{store: store, agency: agency, intn: rand.Intn}
}

// OpenAccount creates the single account owned by userID. Account numbers are
// random with a check digit; collisions are retried a bounded number of times.
func (s *AccountService) OpenAccount(ctx context.Context, userID uuid.UUID, holderName string) (*models.Account, error) {
	holderName = strings.Join(strings.Fields(holderName), " ")
	if len([]rune(holderName)) < 3 {
		return nil, ErrInvalidHolderName
	}
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}

	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		acc := &models.Account{
			ID:            uuid.New(),
			UserID:        userID,
			HolderName:    holderName,
			AccountNumber: GenerateAccountNumber(s.intn(100000)),
			Agency:        s.agency,
			Balance:       domain.Zero,
		}
		err := s.store.CreateAccount(ctx, acc)
		if err == nil {
			zap.L().Info("account opened",
				zap.String("account_id", acc.ID.String()),
				zap.String("account_number", acc.AccountNumber),
			)
			return acc, nil
		}
		if !errors.Is(err, domain.ErrAccountNumberTaken) {
			return nil, err
		}
		zap.L().Debug("account number collision", zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("%w after %d attempts", domain.ErrAccountNumberTaken, accountNumberAttempts)
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *AccountService) GetAccountByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	return s.store.GetAccountByUserID(ctx, userID)
}

// GenerateAccountNumber formats base (taken modulo 100000) as "NNNNN-D".
func GenerateAccountNumber(base int) string {
	digits := fmt.Sprintf("%05d", ((base%100000)+100000)%100000)
	return fmt.Sprintf("%s-%d", digits, checkDigit(digits))
}

// ValidAccountNumber reports whether s is "NNNNN-D" with a matching check digit.
func ValidAccountNumber(s string) bool {
	digits, d, ok := strings.Cut(s, "-")
	if !ok || len(digits) != 5 || len(d) != 1 || d[0] < '0' || d[0] > '9' {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return checkDigit(digits) == int(d[0]-'0')
}

// checkDigit is a mod-11 check with weights 2..6 from the right; remainders
// that would need two digits collapse to 0.
func checkDigit(digits string) int {
	sum := 0
	weight := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
	}
	d := 11 - sum%11
	if d >= 10 {
		return 0
	}
	return d
}
