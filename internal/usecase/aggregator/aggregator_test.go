package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/moneypots/internal/domain"
)

// MockAccountSource is a mock implementation of AccountSource for testing
type MockAccountSource struct {
	mock.Mock
}

func (m *MockAccountSource) Balance(ctx context.Context, bank domain.BankRef, accountID string) (*domain.AccountBalance, error) {
	args := m.Called(ctx, bank, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountBalance), args.Error(1)
}

// MockStateSink is a mock implementation of StateSink for testing
type MockStateSink struct {
	mock.Mock
}

func (m *MockStateSink) Publish(ctx context.Context, entityID string, value string, attributes map[string]string) error {
	args := m.Called(ctx, entityID, value, attributes)
	return args.Error(0)
}

func balance(amount int64) *domain.AccountBalance {
	return &domain.AccountBalance{AmountMinor: amount, Currency: "GBP", AsOf: time.Now()}
}

func monzoGroups() map[domain.BankRef][]domain.AccountGroup {
	return map[domain.BankRef][]domain.AccountGroup{
		domain.BankMonzo: {
			{Bank: domain.BankMonzo, Name: "current_account", AccountIDs: []string{"acc_1"}},
			{Bank: domain.BankMonzo, Name: "credit_cards", AccountIDs: []string{"cc_1", "cc_2"}},
		},
	}
}

func TestPoll_SumsGroupMembers(t *testing.T) {
	ctx := context.Background()
	source := new(MockAccountSource)
	sink := new(MockStateSink)
	store := NewStore()

	source.On("Balance", mock.Anything, domain.BankMonzo, "acc_1").Return(balance(150000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_1").Return(balance(10000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_2").Return(balance(2345), nil)
	sink.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(source, sink, store, monzoGroups(), time.Minute, zerolog.Nop())

	snapshots, err := svc.Poll(ctx, domain.BankMonzo)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	assert.Equal(t, int64(150000), snapshots["current_account"].AmountMinor)
	assert.Equal(t, int64(12345), snapshots["credit_cards"].AmountMinor)
	assert.False(t, snapshots["credit_cards"].Stale)

	// Snapshots land in the store for the pot manager to read.
	stored, ok := store.Latest(domain.GroupRef{Bank: domain.BankMonzo, Group: "credit_cards"})
	require.True(t, ok)
	assert.Equal(t, int64(12345), stored.AmountMinor)

	// Each fresh snapshot is published in major units.
	sink.AssertCalled(t, "Publish", mock.Anything, "var.balance_monzo_credit_cards", "123.45", mock.Anything)
}

func TestPoll_FailedGroupMarkedStaleOthersSurvive(t *testing.T) {
	ctx := context.Background()
	source := new(MockAccountSource)
	sink := new(MockStateSink)
	store := NewStore()

	// Seed a previous good snapshot for the group that will fail.
	store.Put(domain.BalanceSnapshot{
		Bank:        domain.BankMonzo,
		Group:       "credit_cards",
		AmountMinor: 11000,
		Currency:    "GBP",
		ObservedAt:  time.Now().Add(-time.Minute),
	})

	source.On("Balance", mock.Anything, domain.BankMonzo, "acc_1").Return(balance(150000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_1").Return(nil, &domain.APIError{
		Kind: domain.FailureUnavailable, Message: "connection refused",
	})
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_2").Return(balance(2345), nil).Maybe()
	sink.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(source, sink, store, monzoGroups(), time.Minute, zerolog.Nop())

	snapshots, err := svc.Poll(ctx, domain.BankMonzo)
	require.NoError(t, err)

	// The healthy group polled normally.
	assert.Equal(t, int64(150000), snapshots["current_account"].AmountMinor)

	// The failed group kept its last known value, flagged stale.
	stale := snapshots["credit_cards"]
	assert.True(t, stale.Stale)
	assert.Equal(t, int64(11000), stale.AmountMinor)

	// The stale value was never re-published as fresh.
	sink.AssertNotCalled(t, "Publish", mock.Anything, "var.balance_monzo_credit_cards", mock.Anything, mock.Anything)
}

func TestPoll_CurrencyMismatchFailsGroup(t *testing.T) {
	ctx := context.Background()
	source := new(MockAccountSource)
	store := NewStore()

	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_1").Return(balance(10000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_2").Return(&domain.AccountBalance{
		AmountMinor: 500, Currency: "EUR",
	}, nil)

	groups := map[domain.BankRef][]domain.AccountGroup{
		domain.BankMonzo: {{Bank: domain.BankMonzo, Name: "credit_cards", AccountIDs: []string{"cc_1", "cc_2"}}},
	}
	svc := NewService(source, nil, store, groups, time.Minute, zerolog.Nop())

	snapshots, err := svc.Poll(ctx, domain.BankMonzo)
	require.NoError(t, err)

	// No previous value to retain, so the group produces no snapshot.
	assert.Empty(t, snapshots)
	_, ok := store.Latest(domain.GroupRef{Bank: domain.BankMonzo, Group: "credit_cards"})
	assert.False(t, ok)
}

func TestPoll_SinkFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	source := new(MockAccountSource)
	sink := new(MockStateSink)
	store := NewStore()

	source.On("Balance", mock.Anything, domain.BankMonzo, "acc_1").Return(balance(150000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_1").Return(balance(10000), nil)
	source.On("Balance", mock.Anything, domain.BankMonzo, "cc_2").Return(balance(2345), nil)
	sink.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.APIError{Kind: domain.FailureUnavailable, Message: "sink down"})

	svc := NewService(source, sink, store, monzoGroups(), time.Minute, zerolog.Nop())

	snapshots, err := svc.Poll(ctx, domain.BankMonzo)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestPoll_UnknownBank(t *testing.T) {
	svc := NewService(new(MockAccountSource), nil, NewStore(), monzoGroups(), time.Minute, zerolog.Nop())

	_, err := svc.Poll(context.Background(), domain.BankHSBC)
	assert.Error(t, err)
}

func TestStore_NeverRegressesSilently(t *testing.T) {
	store := NewStore()
	now := time.Now()

	fresh := domain.BalanceSnapshot{Bank: domain.BankMonzo, Group: "savings", AmountMinor: 2000, ObservedAt: now}
	older := domain.BalanceSnapshot{Bank: domain.BankMonzo, Group: "savings", AmountMinor: 1000, ObservedAt: now.Add(-time.Minute)}

	assert.True(t, store.Put(fresh))

	// An out-of-order older fetch must not overwrite the fresh value.
	assert.False(t, store.Put(older))

	held, ok := store.Latest(domain.GroupRef{Bank: domain.BankMonzo, Group: "savings"})
	require.True(t, ok)
	assert.Equal(t, int64(2000), held.AmountMinor)
}

func TestStore_MarkStaleRetainsAmount(t *testing.T) {
	store := NewStore()
	ref := domain.GroupRef{Bank: domain.BankAmex, Group: "credit_cards"}

	store.Put(domain.BalanceSnapshot{Bank: domain.BankAmex, Group: "credit_cards", AmountMinor: 12345, ObservedAt: time.Now()})

	stale, ok := store.MarkStale(ref)
	require.True(t, ok)
	assert.True(t, stale.Stale)
	assert.Equal(t, int64(12345), stale.AmountMinor)

	// Marking an unknown group is a no-op.
	_, ok = store.MarkStale(domain.GroupRef{Bank: domain.BankHSBC, Group: "savings"})
	assert.False(t, ok)
}
