package periods

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/ledger/internal/shared"
	_ "github.com/odyssey-erp/ledger/testing"
)

type mockRepository struct {
	mu       sync.Mutex
	years    map[int64]FiscalYear
	periods  map[int64]Period
	vouchers map[int64]int64
	nextID   int64
	// raceOnce makes the next TransitionPeriod lose a race.
	raceOnce bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		years:    make(map[int64]FiscalYear),
		periods:  make(map[int64]Period),
		vouchers: make(map[int64]int64),
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *mockRepository) FindByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.periods {
		if p.TenantID == tenantID && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, shared.ErrPeriodNotFound
}

func (m *mockRepository) GetPeriodByID(ctx context.Context, id int64) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return Period{}, shared.ErrPeriodNotFound
	}
	return p, nil
}

func (m *mockRepository) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fy, ok := m.years[id]
	if !ok {
		return FiscalYear{}, shared.ErrFiscalYearNotFound
	}
	fy.Periods, _ = m.ListPeriods(ctx, id)
	return fy, nil
}

func (m *mockRepository) ListFiscalYears(ctx context.Context, tenantID int64) ([]FiscalYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FiscalYear
	for _, fy := range m.years {
		if fy.TenantID == tenantID {
			out = append(out, fy)
		}
	}
	return out, nil
}

func (m *mockRepository) HasOverlap(ctx context.Context, tenantID int64, start, end time.Time) (bool, error) {
	for _, fy := range m.years {
		if fy.TenantID == tenantID && !fy.StartDate.After(end) && !fy.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) InsertFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	m.nextID++
	fy.ID = m.nextID
	m.years[fy.ID] = fy
	return fy, nil
}

func (m *mockRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	m.nextID++
	p.ID = m.nextID
	m.periods[p.ID] = p
	return p, nil
}

func (m *mockRepository) GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error) {
	fy, ok := m.years[id]
	if !ok {
		return FiscalYear{}, shared.ErrFiscalYearNotFound
	}
	return fy, nil
}

func (m *mockRepository) ListPeriods(ctx context.Context, fiscalYearID int64) ([]Period, error) {
	out := make([]Period, 0, 12)
	for n := 1; n <= 12; n++ {
		for _, p := range m.periods {
			if p.FiscalYearID == fiscalYearID && p.Number == n {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *mockRepository) GetPeriod(ctx context.Context, fiscalYearID int64, number int) (Period, error) {
	for _, p := range m.periods {
		if p.FiscalYearID == fiscalYearID && p.Number == number {
			return p, nil
		}
	}
	return Period{}, shared.ErrPeriodNotFound
}

func (m *mockRepository) TransitionPeriod(ctx context.Context, id int64, from, to PeriodStatus, actor int64, at time.Time) (bool, error) {
	p := m.periods[id]
	if m.raceOnce {
		m.raceOnce = false
		p.Status = to
		m.periods[id] = p
		return false, nil
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	m.periods[id] = p
	return true, nil
}

func (m *mockRepository) MarkFiscalYearClosed(ctx context.Context, id, actor int64, at time.Time) error {
	fy := m.years[id]
	fy.IsClosed = true
	m.years[id] = fy
	return nil
}

func (m *mockRepository) CountVouchers(ctx context.Context, fiscalYearID int64) (int64, error) {
	return m.vouchers[fiscalYearID], nil
}

func (m *mockRepository) DeleteFiscalYear(ctx context.Context, id int64) error {
	delete(m.years, id)
	for pid, p := range m.periods {
		if p.FiscalYearID == id {
			delete(m.periods, pid)
		}
	}
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []internalShared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log internalShared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newService(t *testing.T) (*Service, *mockRepository, FiscalYear) {
	t.Helper()
	repo := newMockRepository()
	svc := NewService(repo, &recordingAudit{}, nil)
	fy, err := svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{
		TenantID:  1,
		Year:      2025,
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return svc, repo, fy
}

func TestCreateFiscalYearBuildsContiguousMonths(t *testing.T) {
	_, _, fy := newService(t)

	require.Len(t, fy.Periods, 12)
	assert.Equal(t, time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC), fy.EndDate)
	assert.True(t, fy.Periods[0].StartDate.Equal(fy.StartDate))
	assert.True(t, fy.Periods[11].EndDate.Equal(fy.EndDate))
	for i := 1; i < len(fy.Periods); i++ {
		prev, cur := fy.Periods[i-1], fy.Periods[i]
		assert.True(t, prev.EndDate.AddDate(0, 0, 1).Equal(cur.StartDate), "gap before period %d", cur.Number)
		assert.Equal(t, PeriodStatusOpen, cur.Status)
	}
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), fy.Periods[1].EndDate)
}

func TestBuildPeriodsQuarterly(t *testing.T) {
	ps := BuildPeriods(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), 4)
	require.Len(t, ps, 4)
	assert.Equal(t, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), ps[0].EndDate)
	assert.Equal(t, time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC), ps[3].EndDate)
}

func TestCreateFiscalYearRejectsOverlap(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{
		TenantID:  1,
		Year:      2026,
		StartDate: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrFiscalYearOverlap)
}

func TestCreateFiscalYearValidatesInput(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil)
	_, err := svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{TenantID: 1, Year: 2025,
		StartDate: time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.CreateFiscalYear(context.Background(), CreateFiscalYearInput{TenantID: 1, Year: 2025, Periods: 5,
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestPeriodStateMachine(t *testing.T) {
	svc, _, fy := newService(t)
	ctx := context.Background()

	_, err := svc.ClosePeriod(ctx, fy.ID, 11, 5)
	require.ErrorIs(t, err, shared.ErrPeriodStillOpen)

	locked, err := svc.LockPeriod(ctx, fy.ID, 11, 5)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusLocked, locked.Status)
	require.NotNil(t, locked.LockedBy)
	assert.Equal(t, int64(5), *locked.LockedBy)

	_, err = svc.LockPeriod(ctx, fy.ID, 11, 5)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	closed, err := svc.ClosePeriod(ctx, fy.ID, 11, 6)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatusClosed, closed.Status)

	_, err = svc.LockPeriod(ctx, fy.ID, 11, 5)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	_, err = svc.ClosePeriod(ctx, fy.ID, 11, 5)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestConcurrentLockOnlyOneWins(t *testing.T) {
	svc, _, fy := newService(t)

	const n = 8
	results := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = svc.LockPeriod(context.Background(), fy.ID, 3, int64(i+1))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInvalidStatus)
	}
	assert.Equal(t, 1, wins)
}

func TestLostRaceIsRetriedAndReported(t *testing.T) {
	svc, repo, fy := newService(t)
	repo.raceOnce = true

	_, err := svc.LockPeriod(context.Background(), fy.ID, 2, 1)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestCloseFiscalYearRequiresAllPeriodsClosed(t *testing.T) {
	svc, _, fy := newService(t)
	ctx := context.Background()

	for n := 1; n <= 11; n++ {
		_, err := svc.LockPeriod(ctx, fy.ID, n, 1)
		require.NoError(t, err)
		_, err = svc.ClosePeriod(ctx, fy.ID, n, 1)
		require.NoError(t, err)
	}
	_, err := svc.LockPeriod(ctx, fy.ID, 12, 1)
	require.NoError(t, err)

	_, err = svc.CloseFiscalYear(ctx, fy.ID, 1)
	var open *shared.OpenPeriodsError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, []shared.PeriodState{{Number: 12, Status: "LOCKED"}}, open.Periods)

	_, err = svc.ClosePeriod(ctx, fy.ID, 12, 1)
	require.NoError(t, err)
	closed, err := svc.CloseFiscalYear(ctx, fy.ID, 1)
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)

	_, err = svc.CloseFiscalYear(ctx, fy.ID, 1)
	require.ErrorIs(t, err, shared.ErrFiscalYearClosed)
}

func TestIsPostable(t *testing.T) {
	svc, _, fy := newService(t)
	ctx := context.Background()
	nov := time.Date(2025, time.November, 1, 15, 30, 0, 0, time.UTC)

	ok, err := svc.IsPostable(ctx, 1, nov)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsPostable(ctx, 1, time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok, "no fiscal year means no postable date")

	ok, err = svc.IsPostable(ctx, 2, nov)
	require.NoError(t, err)
	assert.False(t, ok, "other tenants have no fiscal year")

	_, err = svc.LockPeriod(ctx, fy.ID, 11, 1)
	require.NoError(t, err)
	ok, err = svc.IsPostable(ctx, 1, nov)
	require.NoError(t, err)
	assert.False(t, ok)

	err = svc.EnsurePostable(ctx, 1, nov)
	var locked *shared.PeriodLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 11, locked.PeriodNumber)
	assert.Equal(t, "LOCKED", locked.Status)
}

func TestGetPeriodForDate(t *testing.T) {
	svc, _, fy := newService(t)

	p, ok, err := svc.GetPeriodForDate(context.Background(), fy.ID, time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, p.Number)

	_, ok, err = svc.GetPeriodForDate(context.Background(), fy.ID, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteFiscalYear(t *testing.T) {
	svc, repo, fy := newService(t)

	repo.vouchers[fy.ID] = 1
	require.ErrorIs(t, svc.DeleteFiscalYear(context.Background(), fy.ID, 1), shared.ErrFiscalYearHasPostings)

	repo.vouchers[fy.ID] = 0
	require.NoError(t, svc.DeleteFiscalYear(context.Background(), fy.ID, 1))
	_, err := svc.GetFiscalYear(context.Background(), fy.ID)
	require.ErrorIs(t, err, shared.ErrFiscalYearNotFound)
}
