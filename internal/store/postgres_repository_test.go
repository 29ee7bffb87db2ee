package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cinelux/entitlement-service/internal/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "other pg error", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "wrapped unique violation", err: errors.Join(errors.New("insert failed"), &pgconn.PgError{Code: "23505"}), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}

type stubScanner struct {
	values []any
	err    error
}

func (s stubScanner) Scan(dest ...any) error {
	if s.err != nil {
		return s.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = s.values[i].(uuid.UUID)
		case *domain.PlanTier:
			*d = s.values[i].(domain.PlanTier)
		case *domain.SubscriptionStatus:
			*d = s.values[i].(domain.SubscriptionStatus)
		case *time.Time:
			*d = s.values[i].(time.Time)
		case **string:
			*d = s.values[i].(*string)
		case *string:
			*d = s.values[i].(string)
		case *int64:
			*d = s.values[i].(int64)
		case *bool:
			*d = s.values[i].(bool)
		}
	}
	return nil
}

func TestScanSubscription(t *testing.T) {
	id := uuid.New()
	userID := uuid.New()
	txn := "txn-scan"
	now := time.Now()

	sub, err := scanSubscription(stubScanner{values: []any{
		id, userID, domain.PlanPremium, domain.SubscriptionActive,
		now, now.Add(domain.SubscriptionPeriod), &txn, now, now,
	}})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if sub.ID != id || sub.UserID != userID {
		t.Fatal("expected ids to round-trip")
	}
	if sub.Status != domain.SubscriptionActive || sub.PlanTier != domain.PlanPremium {
		t.Fatalf("unexpected status/tier: %s/%s", sub.Status, sub.PlanTier)
	}
	if sub.ExternalTxnID == nil || *sub.ExternalTxnID != txn {
		t.Fatal("expected external transaction id to round-trip")
	}
}

func TestScanSubscription_PropagatesError(t *testing.T) {
	scanErr := errors.New("scan failed")
	if _, err := scanSubscription(stubScanner{err: scanErr}); !errors.Is(err, scanErr) {
		t.Fatalf("expected scan error, got %v", err)
	}
}

func TestScanDownload(t *testing.T) {
	id := uuid.New()
	userID := uuid.New()
	mediaID := uuid.New()
	now := time.Now()

	dl, err := scanDownload(stubScanner{values: []any{
		id, userID, mediaID, "artifacts/x.mp4", int64(2048), now, now.Add(domain.DownloadRetention), false, false,
	}})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if dl.ID != id || dl.UserID != userID || dl.MediaID != mediaID {
		t.Fatal("expected ids to round-trip")
	}
	if dl.StoragePath != "artifacts/x.mp4" || dl.SizeBytes != 2048 || dl.Expired || dl.ArtifactRemoved {
		t.Fatalf("unexpected download fields: %+v", dl)
	}
}
