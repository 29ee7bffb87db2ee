package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cinelux/entitlement-service/internal/domain"
	"github.com/cinelux/entitlement-service/internal/store"
	"github.com/cinelux/entitlement-service/pkg/paymentclient"
)

// memoryRepo is an in-memory Repository fake that mirrors the storage-layer
// idempotency and quota contracts, so the service tests exercise the same
// transition semantics the Postgres implementation guarantees.
type memoryRepo struct {
	store.Repository

	mu        sync.Mutex
	subs      map[uuid.UUID]*domain.Subscription
	downloads map[uuid.UUID]*domain.Download
	media     map[uuid.UUID]*domain.MediaFile
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		subs:      make(map[uuid.UUID]*domain.Subscription),
		downloads: make(map[uuid.UUID]*domain.Download),
		media:     make(map[uuid.UUID]*domain.MediaFile),
	}
}

func (r *memoryRepo) findByTxnLocked(txnID string) *domain.Subscription {
	for _, sub := range r.subs {
		if sub.ExternalTxnID != nil && *sub.ExternalTxnID == txnID {
			return sub
		}
	}
	return nil
}

func (r *memoryRepo) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *memoryRepo) FindSubscriptionByTransactionID(ctx context.Context, txnID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.findByTxnLocked(txnID)
	if sub == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *memoryRepo) FindCurrentSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Subscription
	rank := func(s domain.SubscriptionStatus) int {
		switch s {
		case domain.SubscriptionActive:
			return 2
		case domain.SubscriptionPending:
			return 1
		}
		return 0
	}
	for _, sub := range r.subs {
		if sub.UserID != userID {
			continue
		}
		if best == nil || rank(sub.Status) > rank(best.Status) ||
			(rank(sub.Status) == rank(best.Status) && sub.EndDate.After(best.EndDate)) {
			best = sub
		}
	}
	if best == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	copied := *best
	return &copied, nil
}

func (r *memoryRepo) CreatePendingSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findByTxnLocked(*sub.ExternalTxnID); existing != nil {
		copied := *existing
		return &copied, false, nil
	}
	copied := *sub
	copied.Status = domain.SubscriptionPending
	r.subs[copied.ID] = &copied
	for _, other := range r.subs {
		if other.ID != copied.ID && other.UserID == copied.UserID &&
			(other.Status == domain.SubscriptionActive || other.Status == domain.SubscriptionPending) {
			other.Status = domain.SubscriptionCancelled
		}
	}
	result := copied
	return &result, true, nil
}

func (r *memoryRepo) ActivateSubscriptionByTransactionID(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findByTxnLocked(*sub.ExternalTxnID); existing != nil {
		if existing.Status == domain.SubscriptionPending {
			existing.Status = domain.SubscriptionActive
			copied := *existing
			return &copied, true, nil
		}
		copied := *existing
		return &copied, false, nil
	}
	copied := *sub
	copied.Status = domain.SubscriptionActive
	r.subs[copied.ID] = &copied
	result := copied
	return &result, true, nil
}

func (r *memoryRepo) CancelSubscriptionByTransactionID(ctx context.Context, txnID string) (*domain.Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.findByTxnLocked(txnID)
	if existing == nil {
		return nil, false, store.ErrSubscriptionNotFound
	}
	if existing.Status == domain.SubscriptionPending {
		existing.Status = domain.SubscriptionCancelled
		copied := *existing
		return &copied, true, nil
	}
	copied := *existing
	return &copied, false, nil
}

func (r *memoryRepo) RenewSubscription(ctx context.Context, id uuid.UUID, extension time.Duration) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Status != domain.SubscriptionActive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.EndDate = sub.EndDate.Add(extension)
	copied := *sub
	return &copied, nil
}

func (r *memoryRepo) UpdateSubscriptionPlan(ctx context.Context, id uuid.UUID, tier domain.PlanTier) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Status != domain.SubscriptionActive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.PlanTier = tier
	copied := *sub
	return &copied, nil
}

func (r *memoryRepo) CancelSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.Status != domain.SubscriptionActive {
		return nil, store.ErrSubscriptionNotFound
	}
	sub.Status = domain.SubscriptionCancelled
	copied := *sub
	return &copied, nil
}

func (r *memoryRepo) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.SubscriptionActive && !sub.EndDate.After(now) {
			sub.Status = domain.SubscriptionExpired
			expired = append(expired, *sub)
		}
	}
	return expired, nil
}

func (r *memoryRepo) CreateDownloadIfUnderQuota(ctx context.Context, dl *domain.Download, limit int) (*domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, existing := range r.downloads {
		if existing.UserID != dl.UserID || existing.Expired {
			continue
		}
		if existing.MediaID == dl.MediaID {
			return nil, store.ErrDuplicateDownload
		}
		count++
	}
	if count >= limit {
		return nil, store.ErrDownloadQuotaExceeded
	}
	copied := *dl
	r.downloads[copied.ID] = &copied
	result := copied
	return &result, nil
}

func (r *memoryRepo) MarkExpiredDownloads(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []domain.Download
	for _, dl := range r.downloads {
		if dl.UserID == userID && !dl.Expired && !dl.ExpiresAt.After(now) {
			dl.Expired = true
		}
		if dl.UserID == userID && dl.Expired && !dl.ArtifactRemoved {
			pending = append(pending, *dl)
		}
	}
	return pending, nil
}

func (r *memoryRepo) MarkDownloadArtifactRemoved(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.downloads[id]
	if !ok {
		return store.ErrDownloadNotFound
	}
	dl.ArtifactRemoved = true
	return nil
}

func (r *memoryRepo) ListActiveDownloads(ctx context.Context, userID uuid.UUID) ([]domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []domain.Download
	for _, dl := range r.downloads {
		if dl.UserID == userID && !dl.Expired {
			list = append(list, *dl)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *memoryRepo) FindDownloadByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.downloads[id]
	if !ok || dl.UserID != userID {
		return nil, store.ErrDownloadNotFound
	}
	copied := *dl
	return &copied, nil
}

func (r *memoryRepo) DeleteDownload(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.downloads[id]; !ok {
		return store.ErrDownloadNotFound
	}
	delete(r.downloads, id)
	return nil
}

func (r *memoryRepo) FindMediaFileByID(ctx context.Context, id uuid.UUID) (*domain.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	media, ok := r.media[id]
	if !ok {
		return nil, store.ErrMediaNotFound
	}
	copied := *media
	return &copied, nil
}

// fakeArtifacts is an in-memory ArtifactStore.
type fakeArtifacts struct {
	mu         sync.Mutex
	media      map[string][]byte
	artifacts  map[string][]byte
	failRemove bool
	removed    []string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		media:     make(map[string][]byte),
		artifacts: make(map[string][]byte),
	}
}

type readSeekNopCloser struct{ *bytes.Reader }

func (readSeekNopCloser) Close() error { return nil }

func (f *fakeArtifacts) OpenMedia(path string) (io.ReadSeekCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.media[path]
	if !ok {
		return nil, 0, errors.New("media original missing")
	}
	return readSeekNopCloser{bytes.NewReader(content)}, int64(len(content)), nil
}

func (f *fakeArtifacts) Materialize(ctx context.Context, mediaPath string, downloadID uuid.UUID) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.media[mediaPath]
	if !ok {
		return "", 0, errors.New("media original missing")
	}
	rel := downloadID.String() + filepath.Ext(mediaPath)
	f.artifacts[rel] = content
	return rel, int64(len(content)), nil
}

func (f *fakeArtifacts) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemove {
		return errors.New("remove failed")
	}
	delete(f.artifacts, path)
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeArtifacts) artifactCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.artifacts)
}

// fakeVerifier answers the pull-based checkout verification with a canned
// response or error.
type fakeVerifier struct {
	resp *paymentclient.CheckoutStatusResponse
	err  error
}

func (f *fakeVerifier) VerifyCheckout(ctx context.Context, token string) (*paymentclient.CheckoutStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakePublisher records published entitlement events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{exchange: exchange, routingKey: routingKey})
	return nil
}

func (f *fakePublisher) published() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedEvent(nil), f.events...)
}

func newTestService(repo store.Repository, artifacts ArtifactStore, verifier PaymentVerifier, now time.Time) *Service {
	svc := NewService(repo, verifier, artifacts, nil, nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func seedActiveSubscription(repo *memoryRepo, userID uuid.UUID, tier domain.PlanTier, now time.Time) *domain.Subscription {
	txn := "txn-" + uuid.NewString()
	sub := &domain.Subscription{
		ID:            uuid.New(),
		UserID:        userID,
		PlanTier:      tier,
		Status:        domain.SubscriptionActive,
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(domain.SubscriptionPeriod),
		ExternalTxnID: &txn,
	}
	repo.mu.Lock()
	repo.subs[sub.ID] = sub
	repo.mu.Unlock()
	return sub
}

func TestGetEntitlementStatus_NoSubscription(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newFakeArtifacts(), nil, time.Now())

	status, err := svc.GetEntitlementStatus(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if status.IsActive {
		t.Fatal("expected inactive status for user without subscription")
	}
	if status.DownloadAllowance != 0 {
		t.Fatalf("expected zero allowance, got %d", status.DownloadAllowance)
	}
}

func TestGetEntitlementStatus_ActiveSubscription(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now()
	userID := uuid.New()
	seedActiveSubscription(repo, userID, domain.PlanPremium, now)
	svc := newTestService(repo, newFakeArtifacts(), nil, now)

	status, err := svc.GetEntitlementStatus(context.Background(), userID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !status.IsActive {
		t.Fatal("expected active status")
	}
	if status.DownloadAllowance != 5 {
		t.Fatalf("expected premium allowance 5, got %d", status.DownloadAllowance)
	}
	if status.EndDate == nil {
		t.Fatal("expected end date on active subscription")
	}
}
