package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	"gameclaim/internal/delivery"
	"gameclaim/internal/model"
	"gameclaim/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func deal(store, price, savings string) model.Deal {
	return model.Deal{StoreID: store, DealID: "deal-" + store, Price: dec(price), RetailPrice: dec("20.00"), SavingsPercent: dec(savings)}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		mode     model.TrackMode
		gd       *model.GameDeals
		wantFire bool
		wantDeal string
	}{
		{
			name: "atl ties low with discount",
			mode: model.TrackAllTimeLow,
			gd: &model.GameDeals{AllTimeLow: dec("10.00"), HasAllTimeLow: true, Deals: []model.Deal{
				deal("1", "10.00", "20"), deal("2", "12.00", "0"),
			}},
			wantFire: true,
			wantDeal: "1",
		},
		{
			name: "atl price matches without discount",
			mode: model.TrackAllTimeLow,
			gd: &model.GameDeals{AllTimeLow: dec("10.00"), HasAllTimeLow: true, Deals: []model.Deal{
				deal("1", "10.00", "0"),
			}},
			wantFire: false,
		},
		{
			name: "atl discounted but above low",
			mode: model.TrackAllTimeLow,
			gd: &model.GameDeals{AllTimeLow: dec("10.00"), HasAllTimeLow: true, Deals: []model.Deal{
				deal("1", "12.00", "40"),
			}},
			wantFire: false,
		},
		{
			name: "atl below low picks first qualifying",
			mode: model.TrackAllTimeLow,
			gd: &model.GameDeals{AllTimeLow: dec("10.00"), HasAllTimeLow: true, Deals: []model.Deal{
				deal("1", "15.00", "25"), deal("2", "9.50", "52"), deal("3", "8.00", "60"),
			}},
			wantFire: true,
			wantDeal: "2",
		},
		{
			name: "atl unknown low never fires",
			mode: model.TrackAllTimeLow,
			gd: &model.GameDeals{Deals: []model.Deal{
				deal("1", "0.00", "100"),
			}},
			wantFire: false,
		},
		{
			name: "sale first discounted deal",
			mode: model.TrackSale,
			gd: &model.GameDeals{AllTimeLow: dec("1.00"), HasAllTimeLow: true, Deals: []model.Deal{
				deal("1", "15.00", "0"), deal("2", "9.00", "40"), deal("3", "5.00", "75"),
			}},
			wantFire: true,
			wantDeal: "2",
		},
		{
			name:     "sale no discount",
			mode:     model.TrackSale,
			gd:       &model.GameDeals{Deals: []model.Deal{deal("1", "15.00", "0")}},
			wantFire: false,
		},
		{
			name:     "no deals",
			mode:     model.TrackSale,
			gd:       &model.GameDeals{},
			wantFire: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := Evaluate(tt.mode, tt.gd)
			if diff := cmp.Diff(tt.wantFire, fired); diff != "" {
				t.Fatalf("fired mismatch (-want +got):\n%s", diff)
			}
			if fired {
				if diff := cmp.Diff(tt.wantDeal, got.StoreID); diff != "" {
					t.Errorf("deal mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

type mockPrices struct {
	deals map[string]*model.GameDeals
	err   map[string]error
	calls []string
}

func (m *mockPrices) FetchGameDeals(_ context.Context, gameID string) (*model.GameDeals, error) {
	m.calls = append(m.calls, gameID)
	if err := m.err[gameID]; err != nil {
		return nil, err
	}
	return m.deals[gameID], nil
}

type mockSink struct {
	mu         sync.Mutex
	sent       []delivery.Message
	resolveErr map[string]error
	sendErr    error
}

func (m *mockSink) Parse(t delivery.Target) (delivery.Channel, error) {
	if t.ChannelID == "" {
		return delivery.Channel{}, delivery.ErrInvalidChannel
	}
	return delivery.Channel{Platform: t.Platform, ID: t.ChannelID}, nil
}

func (m *mockSink) Resolve(_ context.Context, ch delivery.Channel) (delivery.Channel, error) {
	if err := m.resolveErr[ch.ID]; err != nil {
		return delivery.Channel{}, err
	}
	return ch, nil
}

func (m *mockSink) Send(_ context.Context, _ delivery.Channel, msg delivery.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newTestStore(t *testing.T) *storage.SQL {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var onSale = &model.GameDeals{
	Title:         "Hades",
	AllTimeLow:    dec("9.99"),
	HasAllTimeLow: true,
	Deals:         []model.Deal{deal("7", "9.99", "60")},
}

var fullPrice = &model.GameDeals{
	Title:         "Celeste",
	AllTimeLow:    dec("4.99"),
	HasAllTimeLow: true,
	Deals:         []model.Deal{deal("1", "19.99", "0")},
}

func seed(t *testing.T, tr *Tracker, subs ...model.TrackingSubscription) []model.TrackingSubscription {
	t.Helper()
	for i := range subs {
		if _, err := tr.Subscribe(context.Background(), &subs[i], true); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	return subs
}

func remainingIDs(t *testing.T, s storage.Trackings) []int64 {
	t.Helper()
	all, err := s.ListTrackings(context.Background())
	if err != nil {
		t.Fatalf("list trackings: %v", err)
	}
	var ids []int64
	for _, sub := range all {
		ids = append(ids, sub.ID)
	}
	return ids
}

func TestRunCycleFiresAndRemoves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prices := &mockPrices{deals: map[string]*model.GameDeals{"612": onSale, "77": fullPrice}}
	sink := &mockSink{}
	tr := New(store, prices, sink, nil, discardLogger())

	subs := seed(t, tr,
		model.TrackingSubscription{UserID: "u1", ChannelID: "100", GameID: "612", GameName: "Hades", Mode: model.TrackAllTimeLow},
		model.TrackingSubscription{UserID: "u2", ChannelID: "200", GameID: "77", GameName: "Celeste", Mode: model.TrackSale},
	)

	res := tr.RunCycle(ctx)
	if diff := cmp.Diff(CycleResult{Checked: 2, Fired: 1, Removed: 1}, res); diff != "" {
		t.Errorf("cycle result mismatch (-want +got):\n%s", diff)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.sent))
	}
	if diff := cmp.Diff("<@u1> price alert for **Hades**!", sink.sent[0].Content); diff != "" {
		t.Errorf("alert content mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{subs[1].ID}, remainingIDs(t, store)); diff != "" {
		t.Errorf("remaining subscriptions mismatch (-want +got):\n%s", diff)
	}

	// One-shot: the fired subscription does not alert again.
	tr.RunCycle(ctx)
	if len(sink.sent) != 1 {
		t.Errorf("expected no further alerts, got %d", len(sink.sent))
	}
}

func TestRunCycleFailurePolicies(t *testing.T) {
	tests := []struct {
		name        string
		prices      *mockPrices
		sink        *mockSink
		wantRemoved bool
		wantResult  CycleResult
	}{
		{
			name:        "fetch error keeps subscription",
			prices:      &mockPrices{err: map[string]error{"612": errors.New("timeout")}},
			sink:        &mockSink{},
			wantRemoved: false,
			wantResult:  CycleResult{Checked: 1, Errors: 1},
		},
		{
			name:        "deleted channel removes subscription",
			prices:      &mockPrices{deals: map[string]*model.GameDeals{"612": onSale}},
			sink:        &mockSink{resolveErr: map[string]error{"100": delivery.ErrChannelNotFound}},
			wantRemoved: true,
			wantResult:  CycleResult{Checked: 1, Fired: 1, Removed: 1},
		},
		{
			name:        "forbidden channel removes subscription",
			prices:      &mockPrices{deals: map[string]*model.GameDeals{"612": onSale}},
			sink:        &mockSink{resolveErr: map[string]error{"100": delivery.ErrForbidden}},
			wantRemoved: true,
			wantResult:  CycleResult{Checked: 1, Fired: 1, Removed: 1},
		},
		{
			name:        "transient resolve error keeps subscription",
			prices:      &mockPrices{deals: map[string]*model.GameDeals{"612": onSale}},
			sink:        &mockSink{resolveErr: map[string]error{"100": errors.New("gateway 502")}},
			wantRemoved: false,
			wantResult:  CycleResult{Checked: 1, Fired: 1, Errors: 1},
		},
		{
			name:        "send failure still removes subscription",
			prices:      &mockPrices{deals: map[string]*model.GameDeals{"612": onSale}},
			sink:        &mockSink{sendErr: errors.New("rate limited")},
			wantRemoved: true,
			wantResult:  CycleResult{Checked: 1, Fired: 1, Removed: 1, Errors: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			tr := New(store, tt.prices, tt.sink, nil, discardLogger())
			seed(t, tr, model.TrackingSubscription{UserID: "u1", ChannelID: "100", GameID: "612", GameName: "Hades", Mode: model.TrackSale})

			res := tr.RunCycle(context.Background())
			if diff := cmp.Diff(tt.wantResult, res); diff != "" {
				t.Errorf("cycle result mismatch (-want +got):\n%s", diff)
			}
			removed := len(remainingIDs(t, store)) == 0
			if diff := cmp.Diff(tt.wantRemoved, removed); diff != "" {
				t.Errorf("removed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunCycleIsolatesSubscriptions(t *testing.T) {
	store := newTestStore(t)
	prices := &mockPrices{
		deals: map[string]*model.GameDeals{"612": onSale},
		err:   map[string]error{"1": errors.New("boom")},
	}
	sink := &mockSink{}
	tr := New(store, prices, sink, nil, discardLogger())
	seed(t, tr,
		model.TrackingSubscription{UserID: "a", ChannelID: "100", GameID: "1", Mode: model.TrackSale},
		model.TrackingSubscription{UserID: "b", ChannelID: "100", GameID: "612", Mode: model.TrackSale},
	)

	res := tr.RunCycle(context.Background())
	if diff := cmp.Diff(CycleResult{Checked: 2, Fired: 1, Removed: 1, Errors: 1}, res); diff != "" {
		t.Errorf("cycle result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "612"}, prices.calls); diff != "" {
		t.Errorf("fetch calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCycleEmpty(t *testing.T) {
	prices := &mockPrices{}
	tr := New(newTestStore(t), prices, &mockSink{}, nil, discardLogger())
	if diff := cmp.Diff(CycleResult{}, tr.RunCycle(context.Background())); diff != "" {
		t.Errorf("cycle result mismatch (-want +got):\n%s", diff)
	}
	if len(prices.calls) != 0 {
		t.Errorf("expected no fetches, got %v", prices.calls)
	}
}

var ignoreCreated = cmpopts.IgnoreFields(model.TrackingSubscription{}, "CreatedAt")

func TestSubscribeReplacesForRegularUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := New(store, &mockPrices{}, &mockSink{}, nil, discardLogger())

	a := model.TrackingSubscription{UserID: "u1", ChannelID: "100", GameID: "612", GameName: "Hades", Mode: model.TrackSale}
	if _, err := tr.Subscribe(ctx, &a, false); err != nil {
		t.Fatalf("subscribe A: %v", err)
	}
	b := model.TrackingSubscription{UserID: "u1", ChannelID: "100", GameID: "77", GameName: "Celeste", Mode: model.TrackAllTimeLow}
	replaced, err := tr.Subscribe(ctx, &b, false)
	if err != nil {
		t.Fatalf("subscribe B: %v", err)
	}

	if diff := cmp.Diff([]model.TrackingSubscription{a}, replaced, ignoreCreated); diff != "" {
		t.Errorf("replaced mismatch (-want +got):\n%s", diff)
	}
	got, err := tr.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]model.TrackingSubscription{b}, got, ignoreCreated); diff != "" {
		t.Errorf("active subscriptions mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.GetTracking(ctx, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected A to be gone, got %v", err)
	}
	if a.ID == b.ID {
		t.Error("replacement must insert a new row")
	}
}

func TestSubscribePrivilegedAccumulates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := New(store, &mockPrices{}, &mockSink{}, nil, discardLogger())

	const n = 4
	var ids []int64
	for i := 0; i < n; i++ {
		sub := model.TrackingSubscription{UserID: "owner", ChannelID: "100", GameID: string(rune('a' + i)), Mode: model.TrackSale}
		replaced, err := tr.Subscribe(ctx, &sub, true)
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		if len(replaced) != 0 {
			t.Fatalf("privileged subscribe replaced %d rows", len(replaced))
		}
		ids = append(ids, sub.ID)
	}

	got, _ := tr.List(ctx, "owner")
	if len(got) != n {
		t.Fatalf("expected %d subscriptions, got %d", n, len(got))
	}

	if err := tr.Cancel(ctx, "owner", ids[1]); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ = tr.List(ctx, "owner")
	var left []int64
	for _, s := range got {
		left = append(left, s.ID)
	}
	if diff := cmp.Diff([]int64{ids[0], ids[2], ids[3]}, left); diff != "" {
		t.Errorf("remaining ids mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelRequiresOwner(t *testing.T) {
	ctx := context.Background()
	tr := New(newTestStore(t), &mockPrices{}, &mockSink{}, nil, discardLogger())
	sub := model.TrackingSubscription{UserID: "u1", ChannelID: "100", GameID: "612", Mode: model.TrackSale}
	if _, err := tr.Subscribe(ctx, &sub, false); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := tr.Cancel(ctx, "intruder", sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign cancel, got %v", err)
	}
	if err := tr.Cancel(ctx, "u1", sub.ID); err != nil {
		t.Errorf("owner cancel: %v", err)
	}
}

func TestSubscribeRejectsUnknownMode(t *testing.T) {
	tr := New(newTestStore(t), &mockPrices{}, &mockSink{}, nil, discardLogger())
	sub := model.TrackingSubscription{UserID: "u1", GameID: "1", Mode: "cheap"}
	if _, err := tr.Subscribe(context.Background(), &sub, false); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
