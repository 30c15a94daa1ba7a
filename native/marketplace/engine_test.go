package marketplace

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/common"
)

type mockState struct {
	products  map[uint64]*Product
	count     uint64
	snapshots []mockSnapshot
}

type mockSnapshot struct {
	products map[uint64]*Product
	count    uint64
}

func newMockState() *mockState {
	return &mockState{products: make(map[uint64]*Product)}
}

func (m *mockState) ProductGet(id uint64) (*Product, bool, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) ProductPut(p *Product) error {
	m.products[p.ID] = p.Clone()
	return nil
}

func (m *mockState) ProductCount() (uint64, error) { return m.count, nil }

func (m *mockState) SetProductCount(v uint64) error {
	m.count = v
	return nil
}

func (m *mockState) Snapshot() int {
	copied := make(map[uint64]*Product, len(m.products))
	for id, p := range m.products {
		copied[id] = p.Clone()
	}
	m.snapshots = append(m.snapshots, mockSnapshot{products: copied, count: m.count})
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	snap := m.snapshots[id]
	m.products = snap.products
	m.count = snap.count
	m.snapshots = m.snapshots[:id]
}

type mockBank struct {
	balances map[[20]byte]*big.Int
	fail     error
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[[20]byte]*big.Int)}
}

func (b *mockBank) balance(addr [20]byte) *big.Int {
	if v, ok := b.balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (b *mockBank) Transfer(from, to [20]byte, amount *big.Int) error {
	if b.fail != nil {
		return b.fail
	}
	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	b.balances[from] = src.Sub(src, amount)
	b.balances[to] = b.balance(to).Add(b.balance(to), amount)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if payload, ok := evt.(events.Payload); ok {
			out = append(out, payload.Event())
		}
	}
	return out
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func newTestEngine() (*Engine, *mockState, *mockBank, *capturingEmitter) {
	state := newMockState()
	bank := newMockBank()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetBank(bank)
	engine.SetEmitter(emitter)
	return engine, state, bank, emitter
}

func TestListAssignsDenseIDs(t *testing.T) {
	engine, _, _, emitter := newTestEngine()
	seller := newTestAddress(0x01)

	for want := uint64(1); want <= 3; want++ {
		id, err := engine.List(seller, "item", big.NewInt(10))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
		count, err := engine.Count()
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != id {
			t.Fatalf("count %d does not match id %d", count, id)
		}
	}
	if len(emitter.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(emitter.events))
	}
}

func TestListRejectsInvalidInput(t *testing.T) {
	engine, _, _, emitter := newTestEngine()
	seller := newTestAddress(0x01)

	cases := []struct {
		name  string
		price *big.Int
	}{
		{"", big.NewInt(1)},
		{"   ", big.NewInt(1)},
		{"phone", big.NewInt(0)},
		{"phone", big.NewInt(-5)},
		{"phone", nil},
		{"ph\xffone", big.NewInt(1)},
		{"\xc3", big.NewInt(1)},
	}
	for _, tc := range cases {
		if _, err := engine.List(seller, tc.name, tc.price); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("List(%q, %v): expected ErrInvalidInput, got %v", tc.name, tc.price, err)
		}
	}
	count, _ := engine.Count()
	if count != 0 {
		t.Fatalf("count changed to %d", count)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("unexpected events: %d", len(emitter.events))
	}
}

func TestListStoresNormalizedName(t *testing.T) {
	engine, _, _, emitter := newTestEngine()
	seller := newTestAddress(0x01)

	id, err := engine.List(seller, "\uff50\uff48\uff4f\uff4e\uff45 \u2163", big.NewInt(10))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	product, err := engine.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Name != "phone IV" {
		t.Fatalf("stored name %q", product.Name)
	}
	if got := emitter.events[0].(events.Payload).Event().Attributes["name"]; got != "phone IV" {
		t.Fatalf("event name %q", got)
	}
}

func TestPurchaseScenario(t *testing.T) {
	engine, _, bank, emitter := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	other := newTestAddress(0x03)
	bank.balances[buyer] = ether(5)
	bank.balances[other] = ether(5)

	id, err := engine.List(seller, "phone", ether(1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	product, err := engine.Purchase(buyer, 1, ether(1))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if product.Owner != buyer || !product.Purchased {
		t.Fatalf("unexpected product after purchase: %+v", product)
	}
	if got := bank.balance(seller); got.Cmp(ether(1)) != 0 {
		t.Fatalf("seller balance %s", got)
	}
	if got := bank.balance(buyer); got.Cmp(ether(4)) != 0 {
		t.Fatalf("buyer balance %s", got)
	}

	evts := emitter.typesEvents()
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	createdAttrs := evts[0].Attributes
	if evts[0].Type != EventTypeProductCreated || createdAttrs["id"] != "1" || createdAttrs["name"] != "phone" ||
		createdAttrs["price"] != "1000000000000000000" || createdAttrs["owner"] != crypto.FromRaw(seller).String() ||
		createdAttrs["purchased"] != "false" {
		t.Fatalf("unexpected created event: %+v", evts[0])
	}
	purchasedAttrs := evts[1].Attributes
	if evts[1].Type != EventTypeProductPurchased || purchasedAttrs["owner"] != crypto.FromRaw(buyer).String() ||
		purchasedAttrs["purchased"] != "true" || purchasedAttrs["price"] != "1000000000000000000" {
		t.Fatalf("unexpected purchased event: %+v", evts[1])
	}

	// Already-purchased wins over payment and self-purchase checks.
	for _, attempt := range []struct {
		caller  [20]byte
		payment *big.Int
	}{
		{other, ether(1)},
		{other, big.NewInt(1)},
		{buyer, ether(1)},
		{seller, ether(2)},
	} {
		if _, err := engine.Purchase(attempt.caller, 1, attempt.payment); !errors.Is(err, ErrAlreadyPurchased) {
			t.Fatalf("expected ErrAlreadyPurchased, got %v", err)
		}
	}
	if _, err := engine.Purchase(other, 99, ether(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("rejected calls must not emit events")
	}
}

func TestPurchaseCheckOrder(t *testing.T) {
	engine, _, bank, _ := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	bank.balances[buyer] = ether(1)

	if _, err := engine.Purchase(buyer, 0, ether(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("id 0: expected ErrNotFound, got %v", err)
	}
	if _, err := engine.List(seller, "lamp", big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := engine.Purchase(seller, 1, big.NewInt(99)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("underpaying owner: expected ErrInsufficientPayment, got %v", err)
	}
	if _, err := engine.Purchase(seller, 1, big.NewInt(100)); !errors.Is(err, ErrSelfPurchase) {
		t.Fatalf("expected ErrSelfPurchase, got %v", err)
	}
	if _, err := engine.Purchase(buyer, 1, nil); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("nil payment: expected ErrInsufficientPayment, got %v", err)
	}
}

func TestPurchaseForwardsOverpayment(t *testing.T) {
	engine, _, bank, _ := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	bank.balances[buyer] = big.NewInt(1_000)

	if _, err := engine.List(seller, "chair", big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := engine.Purchase(buyer, 1, big.NewInt(250)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := bank.balance(seller); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("seller should receive full payment, got %s", got)
	}
}

func TestPurchaseTransferFailureLeavesProductUntouched(t *testing.T) {
	engine, state, bank, emitter := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)

	if _, err := engine.List(seller, "desk", big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := engine.Purchase(buyer, 1, big.NewInt(100)); err == nil {
		t.Fatalf("expected transfer failure for unfunded buyer")
	}
	bank.balances[buyer] = big.NewInt(100)
	bank.fail = errors.New("bank offline")
	if _, err := engine.Purchase(buyer, 1, big.NewInt(100)); err == nil || !errors.Is(err, bank.fail) {
		t.Fatalf("expected wrapped bank error, got %v", err)
	}

	product, err := engine.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if product.Purchased || product.Owner != seller {
		t.Fatalf("failed purchase mutated product: %+v", product)
	}
	if state.count != 1 {
		t.Fatalf("count changed to %d", state.count)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected only the listing event, got %d", len(emitter.events))
	}

	bank.fail = nil
	if _, err := engine.Purchase(buyer, 1, big.NewInt(100)); err != nil {
		t.Fatalf("retry purchase: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	seller := newTestAddress(0x01)
	if _, err := engine.List(seller, "book", big.NewInt(7)); err != nil {
		t.Fatalf("list: %v", err)
	}
	product, err := engine.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	product.Price.SetInt64(1)
	product.Purchased = true

	again, _ := engine.Get(1)
	if again.Price.Cmp(big.NewInt(7)) != 0 || again.Purchased {
		t.Fatalf("stored product mutated through returned copy: %+v", again)
	}
	if _, err := engine.Get(2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if engine.Name() != "Marketplace" {
		t.Fatalf("unexpected name %q", engine.Name())
	}
}

func TestProductsPaging(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	seller := newTestAddress(0x01)
	for i := 0; i < 5; i++ {
		if _, err := engine.List(seller, "item", big.NewInt(1)); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	page, err := engine.Products(1, 2)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}
	rest, _ := engine.Products(3, 0)
	if len(rest) != 2 || rest[1].ID != 5 {
		t.Fatalf("unexpected remainder: %+v", rest)
	}
	empty, _ := engine.Products(9, 2)
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	engine, _, bank, _ := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	bank.balances[buyer] = big.NewInt(10)

	if _, err := engine.List(seller, "pen", big.NewInt(1)); err != nil {
		t.Fatalf("list: %v", err)
	}
	engine.SetPauses(pauseMap{ModuleName: true})
	if _, err := engine.List(seller, "pen", big.NewInt(1)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := engine.Purchase(buyer, 1, big.NewInt(1)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := engine.Get(1); err != nil {
		t.Fatalf("reads must stay available while paused: %v", err)
	}
}

func TestRebuildFromEmittedEvents(t *testing.T) {
	engine, _, bank, emitter := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	bank.balances[buyer] = big.NewInt(100)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := engine.List(seller, name, big.NewInt(10)); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if _, err := engine.Purchase(buyer, 2, big.NewInt(10)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	snap, err := Rebuild(emitter.typesEvents())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	count, _ := engine.Count()
	if snap.Count != count {
		t.Fatalf("rebuilt count %d, want %d", snap.Count, count)
	}
	for id := uint64(1); id <= count; id++ {
		want, _ := engine.Get(id)
		got, ok := snap.Get(id)
		if !ok {
			t.Fatalf("product %d missing from rebuild", id)
		}
		if got.Name != want.Name || got.Owner != want.Owner || got.Purchased != want.Purchased || got.Price.Cmp(want.Price) != 0 {
			t.Fatalf("product %d mismatch: got %+v want %+v", id, got, want)
		}
	}
}

func TestRebuildRejectsInconsistentStreams(t *testing.T) {
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	first := &Product{ID: 1, Name: "a", Price: big.NewInt(1), Owner: seller}
	sold := &Product{ID: 1, Name: "a", Price: big.NewInt(1), Owner: buyer, Purchased: true}
	skipped := &Product{ID: 2, Name: "b", Price: big.NewInt(1), Owner: seller}
	selfBought := &Product{ID: 1, Name: "a", Price: big.NewInt(1), Owner: seller, Purchased: true}

	cases := map[string][]*types.Event{
		"gap":            {NewCreatedEvent(skipped)},
		"unknown":        {NewPurchasedEvent(sold)},
		"double":         {NewCreatedEvent(first), NewPurchasedEvent(sold), NewPurchasedEvent(sold)},
		"created bought": {NewCreatedEvent(sold)},
		"self purchase":  {NewCreatedEvent(first), NewPurchasedEvent(selfBought)},
	}
	for name, evts := range cases {
		if _, err := Rebuild(evts); !errors.Is(err, ErrReplay) {
			t.Fatalf("%s: expected ErrReplay, got %v", name, err)
		}
	}

	transfer := &types.Event{Type: "transfer.native", Attributes: map[string]string{"amount": "1"}}
	snap, err := Rebuild([]*types.Event{NewCreatedEvent(first), transfer, NewPurchasedEvent(sold)})
	if err != nil {
		t.Fatalf("foreign events should be skipped: %v", err)
	}
	if p, _ := snap.Get(1); p.Owner != buyer {
		t.Fatalf("unexpected owner after rebuild")
	}
}
