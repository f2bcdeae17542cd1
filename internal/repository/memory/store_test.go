package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/repository"
)

func TestAccountRepository_CreateRejectsDuplicates(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	if _, err := repo.Create(ctx, domain.Account{Username: "ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err := repo.Create(ctx, domain.Account{Username: "other", Email: "ada@example.com"})
	var uniqueErr *repository.UniqueViolationError
	if !errors.As(err, &uniqueErr) || uniqueErr.Field != "email" {
		t.Fatalf("expected email violation, got %v", err)
	}

	_, err = repo.Create(ctx, domain.Account{Username: "ada", Email: "new@example.com"})
	if !errors.As(err, &uniqueErr) || uniqueErr.Field != "username" {
		t.Fatalf("expected username violation, got %v", err)
	}
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAccountRepository_ReturnsCopies(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, domain.Account{Username: "ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	created.FailedAttempts = 99

	stored, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if stored.FailedAttempts != 0 {
		t.Fatalf("caller mutation leaked into store: %d", stored.FailedAttempts)
	}
	if stored.Role != domain.RoleUser {
		t.Fatalf("expected default role, got %s", stored.Role)
	}
}

func TestAccountRepository_UpdateIsSerialised(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, domain.Account{Username: "ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = repo.Update(ctx, created.ID, func(account *domain.Account) (bool, error) {
				account.FailedAttempts++
				return true, nil
			})
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if stored.FailedAttempts != workers {
		t.Fatalf("expected %d failed attempts, got %d", workers, stored.FailedAttempts)
	}
	if stored.UpdatedAt == nil {
		t.Fatal("expected updated_at to be set")
	}
}

func TestAccountRepository_UpdateDiscardsOnError(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	created, _ := repo.Create(ctx, domain.Account{Username: "ada", Email: "ada@example.com"})
	sentinel := errors.New("rejected")

	_, err := repo.Update(ctx, created.ID, func(account *domain.Account) (bool, error) {
		account.FailedAttempts = 3
		return true, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	stored, _ := repo.GetByID(ctx, created.ID)
	if stored.FailedAttempts != 0 {
		t.Fatalf("expected mutation to be discarded, got %d", stored.FailedAttempts)
	}

	if _, err := repo.Update(ctx, "missing", func(*domain.Account) (bool, error) { return true, nil }); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepository_ListPaginates(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()
	base := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"ada", "bob", "cyd"} {
		if _, err := repo.Create(ctx, domain.Account{
			Username:  name,
			Email:     name + "@example.com",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	page, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page) != 1 || page[0].Username != "bob" {
		t.Fatalf("unexpected page: %+v", page)
	}

	empty, _ := repo.List(ctx, 10, 5)
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestOTPRepository_RotateLeavesSingleOutstanding(t *testing.T) {
	repo := NewOTPRepository()
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	var wg sync.WaitGroup
	wg.Add(20)
	for i := 0; i < 20; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := repo.Rotate(ctx, domain.OTPRecord{
				Email:     "ada@example.com",
				Code:      "123456",
				Purpose:   domain.OTPPurposeRegistration,
				ExpiresAt: expires,
			}); err != nil {
				t.Errorf("Rotate returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	outstanding := 0
	for _, record := range repo.records {
		if !record.IsUsed {
			outstanding++
		}
	}
	if outstanding != 1 {
		t.Fatalf("expected exactly one outstanding code, got %d", outstanding)
	}
}

func TestOTPRepository_RotateIsolatesPurposes(t *testing.T) {
	repo := NewOTPRepository()
	ctx := context.Background()
	expires := time.Now().Add(10 * time.Minute)

	if _, _, err := repo.Rotate(ctx, domain.OTPRecord{Email: "ada@example.com", Code: "111111", Purpose: domain.OTPPurposeRegistration, ExpiresAt: expires}); err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	_, superseded, err := repo.Rotate(ctx, domain.OTPRecord{Email: "ada@example.com", Code: "222222", Purpose: domain.OTPPurposePasswordReset, ExpiresAt: expires})
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if superseded != 0 {
		t.Fatalf("rotation must not touch other purposes, superseded %d", superseded)
	}

	used := false
	record, err := repo.Find(ctx, port.OTPQuery{Email: "ada@example.com", Purpose: domain.OTPPurposeRegistration, Used: &used})
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if record.Code != "111111" {
		t.Fatalf("expected registration code intact, got %s", record.Code)
	}
}

func TestOTPRepository_MarkUsedExactlyOnce(t *testing.T) {
	repo := NewOTPRepository()
	ctx := context.Background()

	stored, _, err := repo.Rotate(ctx, domain.OTPRecord{
		Email:     "ada@example.com",
		Code:      "123456",
		Purpose:   domain.OTPPurposePasswordReset,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			if err := repo.MarkUsed(ctx, stored.ID); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one redemption, got %d", wins)
	}
}

func TestOTPRepository_FindRequiresFilter(t *testing.T) {
	if _, err := NewOTPRepository().Find(context.Background(), port.OTPQuery{}); err == nil {
		t.Fatal("expected error for empty query")
	}
	if _, err := NewOTPRepository().Find(context.Background(), port.OTPQuery{Email: "x@example.com"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
