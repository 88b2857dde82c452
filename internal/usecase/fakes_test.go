package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"keyset-lifecycle-service/internal/domain"
	"keyset-lifecycle-service/internal/keystore"
)

// fakeKeysetRepository はメモリ上のKeysetRepository。
// errs にメソッド名を入れるとそのメソッドがエラーを返す。
type fakeKeysetRepository struct {
	mu         sync.Mutex
	namespaces map[int64]bool
	rows       map[string]domain.KeysetMetadata
	errs       map[string]error
	// createErr は ExistsByName をすり抜けた競合を再現する。
	createErr error
}

func newFakeKeysetRepository(namespaces ...int64) *fakeKeysetRepository {
	r := &fakeKeysetRepository{
		namespaces: make(map[int64]bool),
		rows:       make(map[string]domain.KeysetMetadata),
		errs:       make(map[string]error),
	}
	for _, ns := range namespaces {
		r.namespaces[ns] = true
	}
	return r
}

func (r *fakeKeysetRepository) snapshot() map[string]domain.KeysetMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.KeysetMetadata, len(r.rows))
	for k, v := range r.rows {
		out[k] = v
	}
	return out
}

func (r *fakeKeysetRepository) restore(rows map[string]domain.KeysetMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = rows
}

func (r *fakeKeysetRepository) put(m domain.KeysetMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.ID] = m
}

func (r *fakeKeysetRepository) row(id string) (domain.KeysetMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	return m, ok
}

func (r *fakeKeysetRepository) NamespaceExists(ctx context.Context, namespaceID int64) (bool, error) {
	if err := r.errs["NamespaceExists"]; err != nil {
		return false, err
	}
	return r.namespaces[namespaceID], nil
}

func (r *fakeKeysetRepository) ExistsByName(ctx context.Context, namespaceID int64, name, keysetName string) (bool, error) {
	if err := r.errs["ExistsByName"]; err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if (m.NamespaceID == namespaceID && m.Name == name) || m.KeysetName == keysetName {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeKeysetRepository) find(id string) *domain.KeysetMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil
	}
	m.Tags = append([]string(nil), m.Tags...)
	return &m
}

func (r *fakeKeysetRepository) FindByID(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	if err := r.errs["FindByID"]; err != nil {
		return nil, err
	}
	return r.find(id), nil
}

func (r *fakeKeysetRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.KeysetMetadata, error) {
	if err := r.errs["FindByIDForUpdate"]; err != nil {
		return nil, err
	}
	return r.find(id), nil
}

func (r *fakeKeysetRepository) FindByNamespaceAndID(ctx context.Context, namespaceID int64, id string) (*domain.KeysetMetadata, error) {
	m := r.find(id)
	if m == nil || m.NamespaceID != namespaceID {
		return nil, nil
	}
	return m, nil
}

func (r *fakeKeysetRepository) Search(ctx context.Context, q domain.KeysetQuery) (*domain.KeysetPage, error) {
	if err := r.errs["Search"]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	var items []*domain.KeysetMetadata
	for _, m := range r.rows {
		if q.NamespaceID != 0 && m.NamespaceID != q.NamespaceID {
			continue
		}
		if q.State != "" && m.State != q.State {
			continue
		}
		m := m
		items = append(items, &m)
	}
	r.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return &domain.KeysetPage{Items: items, Total: int64(len(items)), Page: q.Page, PageSize: q.PageSize}, nil
}

func (r *fakeKeysetRepository) Create(ctx context.Context, m *domain.KeysetMetadata) error {
	if r.createErr != nil {
		return r.createErr
	}
	if err := r.errs["Create"]; err != nil {
		return err
	}
	r.put(*m)
	return nil
}

func (r *fakeKeysetRepository) update(id string, fn func(*domain.KeysetMetadata)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rows[id]
	fn(&m)
	r.rows[id] = m
}

func (r *fakeKeysetRepository) UpdateDetails(ctx context.Context, id, description string, tags []string, updatedAt time.Time) error {
	if err := r.errs["UpdateDetails"]; err != nil {
		return err
	}
	r.update(id, func(m *domain.KeysetMetadata) {
		m.Description, m.Tags, m.UpdatedAt = description, tags, updatedAt
	})
	return nil
}

func (r *fakeKeysetRepository) UpdateState(ctx context.Context, id string, state domain.KeysetState, updatedAt time.Time) error {
	if err := r.errs["UpdateState"]; err != nil {
		return err
	}
	r.update(id, func(m *domain.KeysetMetadata) { m.State, m.UpdatedAt = state, updatedAt })
	return nil
}

func (r *fakeKeysetRepository) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	if err := r.errs["Touch"]; err != nil {
		return err
	}
	r.update(id, func(m *domain.KeysetMetadata) { m.UpdatedAt = updatedAt })
	return nil
}

func (r *fakeKeysetRepository) Delete(ctx context.Context, id string) error {
	if err := r.errs["Delete"]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domain.ErrKeysetNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeKeysetRepository) FindPendingDestructionBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.KeysetMetadata, error) {
	if err := r.errs["FindPendingDestructionBefore"]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.KeysetMetadata
	for _, m := range r.rows {
		if m.State == domain.KeysetStatePendingDestruction && m.UpdatedAt.Before(cutoff) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeTxManager は失敗時にリポジトリの内容を巻き戻す。
type fakeTxManager struct {
	repo    *fakeKeysetRepository
	commits int
}

func (m *fakeTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	before := m.repo.snapshot()
	if err := fn(ctx); err != nil {
		m.repo.restore(before)
		return err
	}
	m.commits++
	return nil
}

// fakeKeysetStore はメモリ上のKeysetStore。キーセットごとの鍵バージョン数を数える。
// clock を設定すると作成とローテーションの日時を記録する。
type fakeKeysetStore struct {
	mu        sync.Mutex
	versions  map[string]int
	intervals map[string]time.Duration
	rotatedAt map[string]time.Time
	calls     map[string]int
	errs      map[string]error
	clock     clock.Clock
}

func newFakeKeysetStore() *fakeKeysetStore {
	return &fakeKeysetStore{
		versions:  make(map[string]int),
		intervals: make(map[string]time.Duration),
		rotatedAt: make(map[string]time.Time),
		calls:     make(map[string]int),
		errs:      make(map[string]error),
	}
}

func (s *fakeKeysetStore) now() time.Time {
	if s.clock == nil {
		return time.Time{}
	}
	return s.clock.Now().UTC()
}

// setInterval は既存キーセットのローテーション間隔を変更する。
func (s *fakeKeysetStore) setInterval(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals[name] = d
}

func (s *fakeKeysetStore) record(op string) error {
	s.calls[op]++
	return s.errs[op]
}

func (s *fakeKeysetStore) Create(ctx context.Context, provider, wrappingKeyID string, def keystore.Definition) (*keystore.Keyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Create"); err != nil {
		return nil, err
	}
	if _, ok := s.versions[def.Name]; ok {
		return nil, keystore.ErrKeysetExists
	}
	s.versions[def.Name] = 1
	s.intervals[def.Name] = def.RotationInterval
	s.rotatedAt[def.Name] = s.now()
	return &keystore.Keyset{Name: def.Name, Provider: provider, WrappingKeyID: wrappingKeyID, Algorithm: def.Algorithm}, nil
}

func (s *fakeKeysetStore) Read(ctx context.Context, name string) (*keystore.Keyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Read"); err != nil {
		return nil, err
	}
	if _, ok := s.versions[name]; !ok {
		return nil, keystore.ErrKeysetNotFound
	}
	return &keystore.Keyset{Name: name, RotationInterval: s.intervals[name], RotatedAt: s.rotatedAt[name]}, nil
}

func (s *fakeKeysetStore) Rotate(ctx context.Context, ks *keystore.Keyset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Rotate"); err != nil {
		return err
	}
	s.versions[ks.Name]++
	s.rotatedAt[ks.Name] = s.now()
	return nil
}

func (s *fakeKeysetStore) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("Remove"); err != nil {
		return err
	}
	if _, ok := s.versions[name]; !ok {
		return keystore.ErrKeysetNotFound
	}
	delete(s.versions, name)
	return nil
}

func (s *fakeKeysetStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.versions[name]
	return ok
}

func (s *fakeKeysetStore) versionCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[name]
}

func (s *fakeKeysetStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

func (s *fakeKeysetStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// eventRecorder は発行されたイベントを保持する。
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(ctx context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) count(kind domain.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
