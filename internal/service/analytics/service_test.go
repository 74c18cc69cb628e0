package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/hosting"
	"github.com/splax/pagesmith/internal/repository"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryStore struct {
	mu       sync.Mutex
	projects []domain.Project
}

func (m *memoryStore) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.ID == projectID {
			cp := p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListProjects(_ context.Context, limit, offset int) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.projects) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.projects) {
		end = len(m.projects)
	}
	return append([]domain.Project(nil), m.projects[offset:end]...), nil
}

func (m *memoryStore) SetProjectAnalytics(_ context.Context, projectID, siteTag, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == projectID {
			m.projects[i].AnalyticsSiteTag = siteTag
			m.projects[i].AnalyticsToken = token
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memoryStore) get(id string) domain.Project {
	p, _ := m.GetProjectByID(context.Background(), id)
	return *p
}

type fakeProvider struct {
	mu         sync.Mutex
	hosts      []string
	deleted    []string
	queries    []string
	since      time.Time
	until      time.Time
	deleteErr  error
	summaryErr map[string]error
	visits     map[string]int64
}

func (f *fakeProvider) CreateAnalyticsSite(_ context.Context, host string) (*hosting.AnalyticsSite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	return &hosting.AnalyticsSite{SiteTag: fmt.Sprintf("tag-%d", len(f.hosts)), SiteToken: "token", Host: host}, nil
}

func (f *fakeProvider) DeleteAnalyticsSite(_ context.Context, siteTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, siteTag)
	return f.deleteErr
}

func (f *fakeProvider) AnalyticsSummary(_ context.Context, siteTag string, since, until time.Time) (*domain.AnalyticsSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, siteTag)
	f.since, f.until = since, until
	if err := f.summaryErr[siteTag]; err != nil {
		return nil, err
	}
	v := f.visits[siteTag]
	return &domain.AnalyticsSummary{SiteTag: siteTag, Since: since, Until: until, TotalVisits: v, TotalPageViews: 2 * v}, nil
}

var fixedNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func newTestService(store *memoryStore, provider *fakeProvider) Service {
	svc := New(store, provider, testLogger, "sites.example.com")
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func deployed(id string) domain.Project {
	return domain.Project{ID: id, Slug: id, RemoteProjectName: "ps-" + id, LastDeploymentID: "dep-1", Status: domain.ProjectStatusPublished}
}

func TestEnableRegistersPublicHostname(t *testing.T) {
	withDomain := deployed("p-1")
	withDomain.CustomDomain = "bakery.example.com"
	withSubdomain := deployed("p-2")
	withSubdomain.Subdomain = "bakery"
	bare := deployed("p-3")
	store := &memoryStore{projects: []domain.Project{withDomain, withSubdomain, bare}}
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	for _, id := range []string{"p-1", "p-2", "p-3"} {
		site, err := svc.Enable(context.Background(), id)
		if err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
		if !site.Created {
			t.Fatalf("expected a new site for %s", id)
		}
	}
	want := []string{"bakery.example.com", "bakery.sites.example.com", "ps-p-3.pages.dev"}
	if fmt.Sprint(provider.hosts) != fmt.Sprint(want) {
		t.Fatalf("expected hosts %v, got %v", want, provider.hosts)
	}
	if p := store.get("p-1"); p.AnalyticsSiteTag != "tag-1" || p.AnalyticsToken != "token" {
		t.Fatalf("binding not stored: %+v", p)
	}
}

func TestEnableIsIdempotent(t *testing.T) {
	p := deployed("p-1")
	p.AnalyticsSiteTag = "existing"
	store := &memoryStore{projects: []domain.Project{p}}
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	site, err := svc.Enable(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if site.Created || site.SiteTag != "existing" || len(provider.hosts) != 0 {
		t.Fatalf("expected existing site to be reused, got %+v (hosts %v)", site, provider.hosts)
	}
}

func TestEnableRequiresDeployment(t *testing.T) {
	store := &memoryStore{projects: []domain.Project{{ID: "p-1", Subdomain: "bakery"}}}
	svc := newTestService(store, &fakeProvider{})

	if _, err := svc.Enable(context.Background(), "p-1"); !errors.Is(err, errNotDeployed) {
		t.Fatalf("expected not deployed, got %v", err)
	}
	if _, err := svc.Enable(context.Background(), " "); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := svc.Enable(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDisableClearsBindingEvenWhenSiteIsGone(t *testing.T) {
	p := deployed("p-1")
	p.AnalyticsSiteTag = "tag-9"
	p.AnalyticsToken = "token"
	store := &memoryStore{projects: []domain.Project{p}}
	provider := &fakeProvider{deleteErr: &apperr.Error{Kind: apperr.KindUpstream, Status: http.StatusNotFound, Err: &hosting.APIError{Status: http.StatusNotFound}}}
	svc := newTestService(store, provider)

	if err := svc.Disable(context.Background(), "p-1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got := store.get("p-1"); got.AnalyticsEnabled() || got.AnalyticsToken != "" {
		t.Fatalf("binding not cleared: %+v", got)
	}
	if len(provider.deleted) != 1 || provider.deleted[0] != "tag-9" {
		t.Fatalf("expected site deletion, got %v", provider.deleted)
	}

	if err := svc.Disable(context.Background(), "p-1"); err != nil || len(provider.deleted) != 1 {
		t.Fatalf("disabling twice must be a no-op, got %v (%v)", err, provider.deleted)
	}
}

func TestDisableKeepsBindingOnUpstreamFailure(t *testing.T) {
	p := deployed("p-1")
	p.AnalyticsSiteTag = "tag-9"
	store := &memoryStore{projects: []domain.Project{p}}
	provider := &fakeProvider{deleteErr: apperr.Upstream(http.StatusBadGateway, "unavailable")}
	svc := newTestService(store, provider)

	if err := svc.Disable(context.Background(), "p-1"); apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !store.get("p-1").AnalyticsEnabled() {
		t.Fatal("binding must survive a failed deletion")
	}
}

func TestSummaryWindow(t *testing.T) {
	p := deployed("p-1")
	p.AnalyticsSiteTag = "tag-1"
	store := &memoryStore{projects: []domain.Project{p}}
	provider := &fakeProvider{visits: map[string]int64{"tag-1": 40}}
	svc := newTestService(store, provider)

	cases := []struct {
		days      int
		wantSince time.Time
	}{
		{days: 0, wantSince: fixedNow.AddDate(0, 0, -6)},
		{days: 1, wantSince: fixedNow},
		{days: 30, wantSince: fixedNow.AddDate(0, 0, -29)},
		{days: 365, wantSince: fixedNow.AddDate(0, 0, -89)},
	}
	for _, tc := range cases {
		summary, err := svc.Summary(context.Background(), "p-1", tc.days)
		if err != nil {
			t.Fatalf("summary(%d): %v", tc.days, err)
		}
		if !provider.since.Equal(tc.wantSince) || !provider.until.Equal(fixedNow) {
			t.Fatalf("days %d: unexpected window %s..%s", tc.days, provider.since, provider.until)
		}
		if summary.ProjectID != "p-1" || summary.TotalVisits != 40 {
			t.Fatalf("unexpected summary %+v", summary)
		}
	}
}

func TestSummaryRequiresEnabledAnalytics(t *testing.T) {
	store := &memoryStore{projects: []domain.Project{deployed("p-1")}}
	provider := &fakeProvider{}
	svc := newTestService(store, provider)

	if _, err := svc.Summary(context.Background(), "p-1", 7); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
	if len(provider.queries) != 0 {
		t.Fatal("provider must not be queried")
	}
}

func TestTotalsSumsTrackedProjectsAcrossPages(t *testing.T) {
	var projects []domain.Project
	visits := map[string]int64{}
	for i := 0; i < listPageSize+5; i++ {
		p := deployed(fmt.Sprintf("p-%d", i))
		if i%2 == 0 {
			p.AnalyticsSiteTag = fmt.Sprintf("tag-%d", i)
			visits[p.AnalyticsSiteTag] = 1
		}
		projects = append(projects, p)
	}
	provider := &fakeProvider{
		visits:     visits,
		summaryErr: map[string]error{"tag-0": apperr.Upstream(http.StatusBadGateway, "unavailable")},
	}
	svc := newTestService(&memoryStore{projects: projects}, provider)

	totals, err := svc.Totals(context.Background(), 7)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	tracked := (listPageSize + 5 + 1) / 2
	if totals.Projects != tracked-1 || totals.Unavailable != 1 {
		t.Fatalf("unexpected project counts %+v", totals)
	}
	if totals.TotalVisits != int64(tracked-1) || totals.TotalPageViews != int64(2*(tracked-1)) {
		t.Fatalf("unexpected sums %+v", totals)
	}
}
