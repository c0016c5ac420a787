package accounts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	_ "github.com/odyssey-erp/ledger/testing"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]Account
	// refs holds the account id referenced by each ledger line or mapping.
	refs        []int64
	failDelete  bool
	invalidated int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: map[int64]Account{}}
}

func (m *memoryStore) Invalidate(context.Context, int64) error {
	m.invalidated++
	return nil
}

func (m *memoryStore) ListTenants(context.Context) ([]int64, error) {
	return []int64{1}, nil
}

// WithTx applies fn against a copy and publishes it only on success.
func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{store: m, nextID: m.nextID, accounts: make(map[int64]Account, len(m.accounts)), refs: append([]int64(nil), m.refs...)}
	for id, acc := range m.accounts {
		tx.accounts[id] = acc
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.nextID = tx.nextID
	m.accounts = tx.accounts
	m.refs = tx.refs
	return nil
}

func (m *memoryStore) byCode(code string) (Account, bool) {
	for _, acc := range m.accounts {
		if acc.Code == code {
			return acc, true
		}
	}
	return Account{}, false
}

type memoryTx struct {
	store    *memoryStore
	nextID   int64
	accounts map[int64]Account
	refs     []int64
}

func (t *memoryTx) LockTenant(context.Context, int64) error { return nil }

func (t *memoryTx) List(_ context.Context, tenantID int64) ([]Account, error) {
	var out []Account
	for _, acc := range t.accounts {
		if acc.TenantID == tenantID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return CompareCodes(out[i].Code, out[j].Code) < 0 })
	return out, nil
}

func (t *memoryTx) GetByCode(_ context.Context, tenantID int64, code string) (Account, error) {
	for _, acc := range t.accounts {
		if acc.TenantID == tenantID && acc.Code == code {
			return acc, nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (t *memoryTx) GetByID(_ context.Context, id int64) (Account, error) {
	acc, ok := t.accounts[id]
	if !ok {
		return Account{}, shared.ErrAccountNotFound
	}
	return acc, nil
}

func (t *memoryTx) Insert(ctx context.Context, a Account) (Account, error) {
	if _, err := t.GetByCode(ctx, a.TenantID, a.Code); err == nil {
		return Account{}, shared.ErrDuplicateAccountCode
	}
	t.nextID++
	a.ID = t.nextID
	a.CreatedAt = time.Unix(t.nextID, 0)
	t.accounts[a.ID] = a
	return a, nil
}

func (t *memoryTx) Update(_ context.Context, a Account) error {
	if _, ok := t.accounts[a.ID]; !ok {
		return shared.ErrAccountNotFound
	}
	t.accounts[a.ID] = a
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	if t.store.failDelete {
		return errors.New("delete failed")
	}
	for _, ref := range t.refs {
		if ref == id {
			return errors.New("foreign key violation")
		}
	}
	delete(t.accounts, id)
	return nil
}

func (t *memoryTx) CountReferences(_ context.Context, id int64) (int64, error) {
	var n int64
	for _, ref := range t.refs {
		if ref == id {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) ReassignReferences(_ context.Context, from, to Account) (int64, error) {
	var n int64
	for i, ref := range t.refs {
		if ref == from.ID {
			t.refs[i] = to.ID
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) insert(t *testing.T, acc Account) Account {
	t.Helper()
	var out Account
	require.NoError(t, m.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.Insert(ctx, acc)
		return err
	}))
	return out
}

func TestEnsureSystemAccountsIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(SystemAccounts), created)

	again, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, again)

	cash, ok := store.byCode(CodeCash)
	require.True(t, ok)
	assert.True(t, cash.IsSystem)
	assert.Equal(t, NormalBalanceDebit, cash.NormalBalance)
	re, ok := store.byCode(CodeRetainedEarnings)
	require.True(t, ok)
	assert.Equal(t, NormalBalanceCredit, re.NormalBalance)
}

func TestEnsureSystemAccountsRepairsDrift(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	_, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)

	cash, _ := store.byCode(CodeCash)
	cash.Name = "Petty"
	cash.IsActive = false
	store.accounts[cash.ID] = cash

	repaired, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	cash, _ = store.byCode(CodeCash)
	assert.Equal(t, "Cash", cash.Name)
	assert.True(t, cash.IsActive)
}

func TestEnsureSystemAccountsConcurrent(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EnsureSystemAccounts(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, store.accounts, len(SystemAccounts))
}

func TestSeedDefaultAccountsLinksParents(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	cash, _ := store.byCode(CodeCash)
	assert.Nil(t, cash.ParentID, "parent does not exist before seeding")

	inserted, err := svc.SeedDefaultAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultChart), inserted)

	cash, _ = store.byCode(CodeCash)
	parent, _ := store.byCode("1100")
	require.NotNil(t, cash.ParentID)
	assert.Equal(t, parent.ID, *cash.ParentID)
	assert.False(t, parent.AllowDirectPosting)

	again, err := svc.SeedDefaultAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestResolveDuplicatesReassignsReferences(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	svc.WithInvalidator(store)
	ctx := context.Background()
	_, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)

	cash, _ := store.byCode(CodeCash)
	dupA := store.insert(t, Account{TenantID: 1, Code: "1111", Name: "  cash ", Type: AccountTypeAsset, NormalBalance: NormalBalanceDebit, IsActive: true, AllowDirectPosting: true})
	dupB := store.insert(t, Account{TenantID: 1, Code: "1119", Name: "CASH", Type: AccountTypeAsset, NormalBalance: NormalBalanceDebit, AllowDirectPosting: true})
	other := store.insert(t, Account{TenantID: 1, Code: "4101", Name: "Cash", Type: AccountTypeRevenue, NormalBalance: NormalBalanceCredit, IsActive: true})
	store.refs = []int64{dupA.ID, dupA.ID, dupB.ID, cash.ID, other.ID}
	store.invalidated = 0

	report, err := svc.ResolveDuplicates(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Groups)
	require.Len(t, report.Merges, 2)
	assert.Equal(t, CodeCash, report.Merges[0].PrimaryCode)
	assert.Equal(t, int64(2), report.Merges[0].Reassigned)
	assert.Equal(t, 1, store.invalidated)

	for _, ref := range store.refs {
		_, ok := store.accounts[ref]
		assert.True(t, ok, "reference %d points at a removed account", ref)
		assert.NotEqual(t, dupA.ID, ref)
		assert.NotEqual(t, dupB.ID, ref)
	}
	_, ok := store.byCode("4101")
	assert.True(t, ok, "different type is not a duplicate")

	again, err := svc.ResolveDuplicates(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, again.Merges)
}

func TestResolveDuplicatesResumesAfterFailure(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	a := store.insert(t, Account{TenantID: 1, Code: "6100", Name: "Travel", Type: AccountTypeExpense, NormalBalance: NormalBalanceDebit, IsActive: true})
	b := store.insert(t, Account{TenantID: 1, Code: "6200", Name: "travel", Type: AccountTypeExpense, NormalBalance: NormalBalanceDebit, IsActive: true})
	store.refs = []int64{b.ID}

	store.failDelete = true
	_, err := svc.ResolveDuplicates(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, []int64{b.ID}, store.refs, "failed merge rolls back")

	store.failDelete = false
	report, err := svc.ResolveDuplicates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report.Merges, 1)
	assert.Equal(t, []int64{a.ID}, store.refs)
}

func TestResolveDuplicatesSkipsSystemDuplicates(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	store.insert(t, Account{TenantID: 1, Code: "1110", Name: "Cash", Type: AccountTypeAsset, IsSystem: true, IsActive: true})
	store.insert(t, Account{TenantID: 1, Code: "1190", Name: "Cash", Type: AccountTypeAsset, IsSystem: true, IsActive: true})

	report, err := svc.ResolveDuplicates(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, report.Merges)
	assert.Equal(t, []string{"1190"}, report.Skipped)
}

func TestCreateAccount(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	_, err := svc.SeedDefaultAccounts(ctx, 1)
	require.NoError(t, err)

	acc, err := svc.Create(ctx, CreateInput{TenantID: 1, Code: "5210", Name: "Bonuses", Type: AccountTypeExpense, ParentCode: "5000"})
	require.NoError(t, err)
	assert.Equal(t, NormalBalanceDebit, acc.NormalBalance)
	assert.True(t, acc.AllowDirectPosting)
	require.NotNil(t, acc.ParentID)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "5210", Name: "Again", Type: AccountTypeExpense})
	require.ErrorIs(t, err, shared.ErrDuplicateAccountCode)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "5220", Name: "Wrong parent", Type: AccountTypeExpense, ParentCode: "1000"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "5230", Name: "Bad type", Type: "OTHER"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestSystemAccountsAreProtected(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	_, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)

	name := "Renamed"
	_, err = svc.Update(ctx, UpdateInput{TenantID: 1, Code: CodeCash, Name: &name})
	require.ErrorIs(t, err, shared.ErrSystemAccount)
	require.ErrorIs(t, svc.Deactivate(ctx, 1, CodeCash), shared.ErrSystemAccount)
	require.ErrorIs(t, svc.Delete(ctx, 1, CodeCash), shared.ErrSystemAccount)
}

func TestUpdateRejectsParentCycle(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{TenantID: 1, Code: "6000", Name: "Opex", Type: AccountTypeExpense, Header: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "6100", Name: "Travel", Type: AccountTypeExpense, ParentCode: "6000"})
	require.NoError(t, err)

	parent := "6100"
	_, err = svc.Update(ctx, UpdateInput{TenantID: 1, Code: "6000", ParentCode: &parent})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	name := "Travel & Lodging"
	updated, err := svc.Update(ctx, UpdateInput{TenantID: 1, Code: "6100", Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
}

func TestDeleteAndDeactivate(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	used, err := svc.Create(ctx, CreateInput{TenantID: 1, Code: "6100", Name: "Travel", Type: AccountTypeExpense})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "6200", Name: "Meals", Type: AccountTypeExpense})
	require.NoError(t, err)
	store.refs = []int64{used.ID}

	require.ErrorIs(t, svc.Delete(ctx, 1, "6100"), shared.ErrAccountInUse)
	require.NoError(t, svc.Deactivate(ctx, 1, "6100"))
	acc, err := svc.Get(ctx, 1, "6100")
	require.NoError(t, err)
	assert.False(t, acc.IsActive)

	require.NoError(t, svc.Delete(ctx, 1, "6200"))
	_, err = svc.Get(ctx, 1, "6200")
	require.ErrorIs(t, err, shared.ErrAccountNotFound)
}

func TestChartChangesInvalidateBalances(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil)
	svc.WithInvalidator(store)
	ctx := context.Background()

	_, err := svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, store.invalidated)
	_, err = svc.EnsureSystemAccounts(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, store.invalidated, "no change, no invalidation")

	_, err = svc.Create(ctx, CreateInput{TenantID: 1, Code: "6100", Name: "Travel", Type: AccountTypeExpense})
	require.NoError(t, err)
	assert.Equal(t, 2, store.invalidated)

	name := "Travel and lodging"
	_, err = svc.Update(ctx, UpdateInput{TenantID: 1, Code: "6100", Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 3, store.invalidated)

	require.NoError(t, svc.Deactivate(ctx, 1, "6100"))
	assert.Equal(t, 4, store.invalidated)

	require.NoError(t, svc.Delete(ctx, 1, "6100"))
	assert.Equal(t, 5, store.invalidated)

	require.ErrorIs(t, svc.Delete(ctx, 1, CodeCash), shared.ErrSystemAccount)
	assert.Equal(t, 5, store.invalidated, "failed changes leave the cache alone")
}
