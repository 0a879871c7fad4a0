package replenish

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func TestGenerateEndpointMapsDependencyFailure(t *testing.T) {
	cat := &fakeCatalog{listErr: fmt.Errorf("catalog timeout")}
	gen := NewGenerator(cat, fakeStock{}, fakeDemand{}, &fakeWriter{}, nil, nil)
	h := NewHandler(gen, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/replenishment/JKT-01/generate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// conflictingRepo fails the first transactions with a concurrent
// modification, then delegates.
type conflictingRepo struct {
	*fakeSugRepo
	conflicts int
}

func (r *conflictingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.conflicts > 0 {
		r.conflicts--
		return &ConcurrentModificationError{IDs: []int64{1}}
	}
	return r.fakeSugRepo.WithTx(ctx, fn)
}

func TestApproveEndpointRetriesConflicts(t *testing.T) {
	base := newFakeSugRepo()
	id := base.addSuggestion(pendingSuggestion(1, 1, 10, "2.00"))
	repo := &conflictingRepo{fakeSugRepo: base, conflicts: 1}
	svc := NewService(repo, fakeSuppliers{1: {ID: 1, LeadTimeDays: 2, Active: true}}, nil)
	h := NewHandler(nil, svc, nil, nil)

	body := fmt.Sprintf(`{"ids":[%d],"generate_po":true}`, id)
	req := httptest.NewRequest(http.MethodPost, "/suggestions/approve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusOrdered, base.suggestions[id].Status)
}

func TestApproveEndpointSurfacesPersistentConflict(t *testing.T) {
	base := newFakeSugRepo()
	id := base.addSuggestion(pendingSuggestion(1, 1, 10, "2.00"))
	repo := &conflictingRepo{fakeSugRepo: base, conflicts: 10}
	svc := NewService(repo, fakeSuppliers{1: {ID: 1, LeadTimeDays: 2, Active: true}}, nil)
	h := NewHandler(nil, svc, nil, nil)

	body := fmt.Sprintf(`{"ids":[%d],"generate_po":true}`, id)
	req := httptest.NewRequest(http.MethodPost, "/suggestions/approve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, StatusPending, base.suggestions[id].Status)
}
