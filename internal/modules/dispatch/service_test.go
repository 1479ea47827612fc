// README: Dispatch service tests over in-memory fakes, including the claim race.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"delixmi/internal/geo"
	"delixmi/internal/modules/courier"
	"delixmi/internal/modules/identity"
	"delixmi/internal/modules/order"
	"delixmi/internal/notify"
)

// Pachuca area. Distances below are along the same parallel, so 0.01 of
// longitude is about 1.04 km.
var (
	basePoint = geo.Point{Lat: 20.48, Lng: -99.23}
	nearPoint = geo.Point{Lat: 20.48, Lng: -99.25} // ~2.1 km from base
	midPoint  = geo.Point{Lat: 20.48, Lng: -99.30} // ~7.3 km from base
	farPoint  = geo.Point{Lat: 20.48, Lng: -99.43} // ~20.9 km from base
)

type fakeBranchMeta struct {
	restaurantID uuid.UUID
	location     geo.Point
	radiusKm     *float64
	platform     bool
}

// fakeClaimStore mirrors the conditional-update semantics of the real store:
// a claim succeeds only while the order is ready and unassigned, and the
// courier flip is part of the same critical section.
type fakeClaimStore struct {
	mu       sync.Mutex
	seq      []uuid.UUID
	orders   map[uuid.UUID]*order.Order
	branches map[uuid.UUID]fakeBranchMeta
	couriers map[uuid.UUID]courier.Status
}

func (f *fakeClaimStore) eligible(e Eligibility, meta fakeBranchMeta) bool {
	if meta.platform {
		return e.Platform
	}
	for _, id := range e.RestaurantIDs {
		if id == meta.restaurantID {
			return true
		}
	}
	return false
}

func (f *fakeClaimStore) CandidateOrders(_ context.Context, e Eligibility) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Candidate
	for _, id := range f.seq {
		o := f.orders[id]
		if o.Status != order.StatusReadyForPickup || o.CourierID != nil {
			continue
		}
		meta := f.branches[o.BranchID]
		if !f.eligible(e, meta) {
			continue
		}
		out = append(out, Candidate{OrderID: id, Branch: meta.location, RadiusKm: meta.radiusKm})
	}
	return out, nil
}

func (f *fakeClaimStore) ClaimOrder(_ context.Context, orderID, courierID uuid.UUID, e Eligibility) (*order.Order, uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != order.StatusReadyForPickup || o.CourierID != nil {
		return nil, uuid.Nil, ErrOrderTaken
	}
	meta := f.branches[o.BranchID]
	if !f.eligible(e, meta) {
		return nil, uuid.Nil, ErrOrderTaken
	}
	if f.couriers[courierID] != courier.StatusOnline {
		return nil, uuid.Nil, ErrCourierUnavailable
	}
	now := time.Now()
	o.CourierID = &courierID
	o.Status = order.StatusOutForDelivery
	o.ClaimedAt = &now
	f.couriers[courierID] = courier.StatusBusy
	cp := *o
	return &cp, meta.restaurantID, nil
}

func (f *fakeClaimStore) CompleteOrder(_ context.Context, orderID, courierID uuid.UUID) (*order.Order, uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Status != order.StatusOutForDelivery || o.CourierID == nil || *o.CourierID != courierID {
		return nil, uuid.Nil, ErrNotAssigned
	}
	now := time.Now()
	o.Status = order.StatusDelivered
	o.DeliveredAt = &now
	f.couriers[courierID] = courier.StatusOnline
	cp := *o
	return &cp, f.branches[o.BranchID].restaurantID, nil
}

func (f *fakeClaimStore) courierStatus(id uuid.UUID) courier.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.couriers[id]
}

func (f *fakeClaimStore) orderByID(id uuid.UUID) order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

type fakeCourierDir struct {
	profiles map[uuid.UUID]*courier.Profile
}

func (f *fakeCourierDir) GetByUserID(_ context.Context, id uuid.UUID) (*courier.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, courier.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeUserDir struct {
	users map[uuid.UUID]*identity.User
}

func (f *fakeUserDir) GetUserWithRoles(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

type fakeDetailer struct {
	store *fakeClaimStore
}

func (f *fakeDetailer) DetailsByIDs(_ context.Context, ids []uuid.UUID) ([]order.Detail, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	out := make([]order.Detail, 0, len(ids))
	for _, id := range ids {
		o, ok := f.store.orders[id]
		if !ok {
			continue
		}
		out = append(out, order.Detail{
			ID:       o.ID,
			Status:   o.Status,
			Total:    o.Total,
			PlacedAt: o.PlacedAt,
			Items:    []order.Item{},
		})
	}
	return out, nil
}

type fakePushReader struct {
	pushedAt map[uuid.UUID]time.Time
	notified map[uuid.UUID]map[uuid.UUID]bool
}

func (f *fakePushReader) PushedAt(_ context.Context, orderID uuid.UUID) (time.Time, bool, error) {
	at, ok := f.pushedAt[orderID]
	return at, ok, nil
}

func (f *fakePushReader) WasNotified(_ context.Context, orderID, courierID uuid.UUID) (bool, error) {
	return f.notified[orderID][courierID], nil
}

type publishedEvent struct {
	Topic string
	Event notify.Event
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(topic string, e notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Topic: topic, Event: e})
}

func (f *fakePublisher) byTopic(topic string) []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, pe := range f.events {
		if pe.Topic == topic {
			out = append(out, pe.Event)
		}
	}
	return out
}

type dispatchFixture struct {
	store    *fakeClaimStore
	profiles *fakeCourierDir
	users    *fakeUserDir
	push     *fakePushReader
	pub      *fakePublisher
	svc      *Service

	customerID uuid.UUID
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		store: &fakeClaimStore{
			orders:   map[uuid.UUID]*order.Order{},
			branches: map[uuid.UUID]fakeBranchMeta{},
			couriers: map[uuid.UUID]courier.Status{},
		},
		profiles:   &fakeCourierDir{profiles: map[uuid.UUID]*courier.Profile{}},
		users:      &fakeUserDir{users: map[uuid.UUID]*identity.User{}},
		push:       &fakePushReader{pushedAt: map[uuid.UUID]time.Time{}, notified: map[uuid.UUID]map[uuid.UUID]bool{}},
		pub:        &fakePublisher{},
		customerID: uuid.New(),
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Couriers: f.profiles,
		Users:    f.users,
		Details:  &fakeDetailer{store: f.store},
		PushLog:  f.push,
		Notifier: f.pub,
		RadiusKm: 10,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *dispatchFixture) addBranch(restaurantID uuid.UUID, at geo.Point, radiusKm *float64, platform bool) uuid.UUID {
	id := uuid.New()
	f.store.branches[id] = fakeBranchMeta{
		restaurantID: restaurantID,
		location:     at,
		radiusKm:     radiusKm,
		platform:     platform,
	}
	return id
}

func (f *dispatchFixture) addCourier(name string, status courier.Status, at *geo.Point, roles ...identity.RoleAssignment) uuid.UUID {
	id := uuid.New()
	f.profiles.profiles[id] = &courier.Profile{UserID: id, Name: name, Status: status, Location: at}
	f.users.users[id] = &identity.User{ID: id, Name: name, Roles: roles}
	f.store.couriers[id] = status
	return id
}

func (f *dispatchFixture) addPlatformCourier(name string, status courier.Status, at *geo.Point) uuid.UUID {
	return f.addCourier(name, status, at, identity.RoleAssignment{Role: identity.RoleDriverPlatform})
}

func (f *dispatchFixture) addFleetCourier(name string, status courier.Status, at *geo.Point, restaurants ...uuid.UUID) uuid.UUID {
	roles := make([]identity.RoleAssignment, 0, len(restaurants))
	for i := range restaurants {
		roles = append(roles, identity.RoleAssignment{Role: identity.RoleDriverRestaurant, RestaurantID: &restaurants[i]})
	}
	if len(roles) == 0 {
		roles = []identity.RoleAssignment{{Role: identity.RoleDriverRestaurant}}
	}
	return f.addCourier(name, status, at, roles...)
}

func (f *dispatchFixture) addReadyOrder(branchID uuid.UUID, placedAgo time.Duration) uuid.UUID {
	o := &order.Order{
		ID:            uuid.New(),
		CustomerID:    f.customerID,
		BranchID:      branchID,
		AddressID:     uuid.New(),
		Status:        order.StatusReadyForPickup,
		Subtotal:      decimal.NewFromInt(220),
		DeliveryFee:   decimal.NewFromInt(30),
		PlatformFee:   decimal.RequireFromString("7.50"),
		Total:         decimal.RequireFromString("257.50"),
		PaymentMethod: "card",
		PlacedAt:      time.Now().Add(-placedAgo),
	}
	f.store.seq = append(f.store.seq, o.ID)
	f.store.orders[o.ID] = o
	return o.ID
}

func (f *dispatchFixture) addActiveDelivery(branchID, courierID uuid.UUID, placedAgo, claimedAgo time.Duration) uuid.UUID {
	id := f.addReadyOrder(branchID, placedAgo)
	o := f.store.orders[id]
	claimedAt := time.Now().Add(-claimedAgo)
	o.Status = order.StatusOutForDelivery
	o.CourierID = &courierID
	o.ClaimedAt = &claimedAt
	f.store.couriers[courierID] = courier.StatusBusy
	if p, ok := f.profiles.profiles[courierID]; ok {
		p.Status = courier.StatusBusy
	}
	return id
}

func (f *dispatchFixture) orderIDs(res *ListResult) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(res.Orders))
	for _, d := range res.Orders {
		ids = append(ids, d.ID)
	}
	return ids
}

func TestListAvailableOrdersOfflineCourierSeesNothing(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	f.addReadyOrder(branch, time.Minute)

	for _, status := range []courier.Status{courier.StatusOffline, courier.StatusBusy, courier.StatusUnavailable} {
		id := f.addPlatformCourier("Rique", status, &basePoint)
		res, err := f.svc.ListAvailableOrders(ctx, id, 1, 10)
		if err != nil {
			t.Fatalf("status %s: unexpected err: %v", status, err)
		}
		if len(res.Orders) != 0 {
			t.Errorf("status %s: got %d orders, want 0", status, len(res.Orders))
		}
		if res.Pagination.TotalCount != 0 || res.Pagination.HasNextPage {
			t.Errorf("status %s: pagination = %+v, want empty", status, res.Pagination)
		}
	}
}

func TestListAvailableOrdersRequiresLocation(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	id := f.addPlatformCourier("Rique", courier.StatusOnline, nil)

	_, err := f.svc.ListAvailableOrders(ctx, id, 1, 10)
	if !errors.Is(err, ErrLocationUnknown) {
		t.Fatalf("err = %v, want ErrLocationUnknown", err)
	}
}

func TestListAvailableOrdersUnknownCourier(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	_, err := f.svc.ListAvailableOrders(ctx, uuid.New(), 1, 10)
	if !errors.Is(err, courier.ErrProfileNotFound) {
		t.Fatalf("err = %v, want ErrProfileNotFound", err)
	}
}

func TestListAvailableOrdersRadiusFilter(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	rest := uuid.New()
	tight := 1.5
	wide := 25.0

	// near and far sit ~2.1 km and ~20.9 km out; the default radius is 10.
	// The other two branches override it in each direction.
	near := f.addBranch(rest, nearPoint, nil, true)
	far := f.addBranch(rest, farPoint, nil, true)
	tightNear := f.addBranch(rest, nearPoint, &tight, true)
	wideFar := f.addBranch(rest, farPoint, &wide, true)

	wantIn := f.addReadyOrder(near, 4*time.Minute)
	f.addReadyOrder(far, 3*time.Minute)
	f.addReadyOrder(tightNear, 2*time.Minute)
	alsoIn := f.addReadyOrder(wideFar, time.Minute)

	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	res, err := f.svc.ListAvailableOrders(ctx, courierID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	got := f.orderIDs(res)
	want := []uuid.UUID{wantIn, alsoIn}
	if len(got) != len(want) {
		t.Fatalf("got %d orders %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("orders[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if res.Pagination.TotalCount != 2 {
		t.Errorf("totalCount = %d, want 2", res.Pagination.TotalCount)
	}
}

func TestListAvailableOrdersFleetVisibility(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	restA := uuid.New()
	restB := uuid.New()

	platformBranch := f.addBranch(restB, nearPoint, nil, true)
	fleetBranch := f.addBranch(restA, nearPoint, nil, false)
	platformOrder := f.addReadyOrder(platformBranch, 2*time.Minute)
	fleetOrder := f.addReadyOrder(fleetBranch, time.Minute)

	platformCourier := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	fleetCourier := f.addFleetCourier("Memo", courier.StatusOnline, &basePoint, restA)
	hybrid := f.addCourier("Lupe", courier.StatusOnline, &basePoint,
		identity.RoleAssignment{Role: identity.RoleDriverPlatform},
		identity.RoleAssignment{Role: identity.RoleDriverRestaurant, RestaurantID: &restA},
	)

	tests := []struct {
		name      string
		courierID uuid.UUID
		want      []uuid.UUID
	}{
		{"platform courier sees platform pool only", platformCourier, []uuid.UUID{platformOrder}},
		{"fleet courier sees own fleet only", fleetCourier, []uuid.UUID{fleetOrder}},
		{"hybrid sees both", hybrid, []uuid.UUID{platformOrder, fleetOrder}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ListAvailableOrders(ctx, tt.courierID, 1, 10)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			got := f.orderIDs(res)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("orders[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}

	// Dangling fleet membership is surfaced, not treated as empty.
	orphan := f.addFleetCourier("Chuy", courier.StatusOnline, &basePoint)
	if _, err := f.svc.ListAvailableOrders(ctx, orphan, 1, 10); !errors.Is(err, ErrNoRestaurants) {
		t.Fatalf("err = %v, want ErrNoRestaurants", err)
	}
	customer := f.addCourier("Nora", courier.StatusOnline, &basePoint,
		identity.RoleAssignment{Role: identity.RoleCustomer})
	if _, err := f.svc.ListAvailableOrders(ctx, customer, 1, 10); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestListAvailableOrdersPagination(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = f.addReadyOrder(branch, time.Duration(5-i)*time.Minute)
	}
	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)

	tests := []struct {
		name     string
		page     int
		pageSize int
		want     []uuid.UUID
		pg       Pagination
	}{
		{"first page", 1, 2, ids[0:2], Pagination{CurrentPage: 1, PageSize: 2, TotalCount: 5, TotalPages: 3, HasNextPage: true}},
		{"middle page", 2, 2, ids[2:4], Pagination{CurrentPage: 2, PageSize: 2, TotalCount: 5, TotalPages: 3, HasNextPage: true, HasPreviousPage: true}},
		{"last short page", 3, 2, ids[4:5], Pagination{CurrentPage: 3, PageSize: 2, TotalCount: 5, TotalPages: 3, HasPreviousPage: true}},
		{"past the end", 9, 2, nil, Pagination{CurrentPage: 9, PageSize: 2, TotalCount: 5, TotalPages: 3, HasPreviousPage: true}},
		{"zero values clamp to defaults", 0, 0, ids, Pagination{CurrentPage: 1, PageSize: 10, TotalCount: 5, TotalPages: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ListAvailableOrders(ctx, courierID, tt.page, tt.pageSize)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			got := f.orderIDs(res)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d orders, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("orders[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if res.Pagination != tt.pg {
				t.Errorf("pagination = %+v, want %+v", res.Pagination, tt.pg)
			}
		})
	}
}

func TestClaimAssignsOrderAndFlipsCourier(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	rest := uuid.New()
	branch := f.addBranch(rest, nearPoint, nil, true)
	orderID := f.addReadyOrder(branch, 10*time.Minute)
	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	f.push.pushedAt[orderID] = time.Now().Add(-90 * time.Second)
	f.push.notified[orderID] = map[uuid.UUID]bool{courierID: true}

	res, err := f.svc.Claim(ctx, orderID, courierID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if res.Order.Status != order.StatusOutForDelivery {
		t.Errorf("order status = %s, want %s", res.Order.Status, order.StatusOutForDelivery)
	}
	if res.Order.CourierID == nil || *res.Order.CourierID != courierID {
		t.Errorf("order courier = %v, want %s", res.Order.CourierID, courierID)
	}
	if res.Courier.ID != courierID || res.Courier.Name != "Rique" || res.Courier.Status != "busy" {
		t.Errorf("courier info = %+v", res.Courier)
	}

	stored := f.store.orderByID(orderID)
	if stored.ClaimedAt == nil {
		t.Error("claimed_at not set")
	}
	if got := f.store.courierStatus(courierID); got != courier.StatusBusy {
		t.Errorf("courier status = %s, want busy", got)
	}

	for _, topic := range []string{notify.UserTopic(f.customerID), notify.RestaurantTopic(rest)} {
		events := f.pub.byTopic(topic)
		if len(events) != 1 {
			t.Fatalf("topic %s: got %d events, want 1", topic, len(events))
		}
		e := events[0]
		if e.Event != notify.EventOrderClaimed {
			t.Errorf("topic %s: event = %s, want %s", topic, e.Event, notify.EventOrderClaimed)
		}
		if e.Data["driverId"] != courierID.String() || e.Data["driverName"] != "Rique" {
			t.Errorf("topic %s: data = %v", topic, e.Data)
		}
	}
}

func TestClaimExactlyOnceUnderContention(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	orderID := f.addReadyOrder(branch, time.Minute)

	const attempts = 6
	couriers := make([]uuid.UUID, attempts)
	for i := range couriers {
		couriers[i] = f.addPlatformCourier(fmt.Sprintf("courier-%d", i), courier.StatusOnline, &basePoint)
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for _, id := range couriers {
		wg.Add(1)
		go func(courierID uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Claim(ctx, orderID, courierID)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrOrderTaken) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", success)
	}

	stored := f.store.orderByID(orderID)
	if stored.Status != order.StatusOutForDelivery || stored.CourierID == nil {
		t.Fatalf("order not assigned after race: status=%s courier=%v", stored.Status, stored.CourierID)
	}
	busy := 0
	for _, id := range couriers {
		if f.store.courierStatus(id) == courier.StatusBusy {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected exactly 1 busy courier, got %d", busy)
	}
}

func TestClaimAlreadyTaken(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	orderID := f.addReadyOrder(branch, time.Minute)
	first := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	second := f.addPlatformCourier("Memo", courier.StatusOnline, &basePoint)

	if _, err := f.svc.Claim(ctx, orderID, first); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := f.svc.Claim(ctx, orderID, second); !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("second claim err = %v, want ErrOrderTaken", err)
	}
	if got := f.store.courierStatus(second); got != courier.StatusOnline {
		t.Errorf("losing courier status = %s, want online", got)
	}
}

func TestClaimUnknownOrder(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)

	if _, err := f.svc.Claim(ctx, uuid.New(), courierID); !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("err = %v, want ErrOrderTaken", err)
	}
}

func TestClaimCourierNotOnline(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	orderID := f.addReadyOrder(branch, time.Minute)
	courierID := f.addPlatformCourier("Rique", courier.StatusOffline, &basePoint)

	_, err := f.svc.Claim(ctx, orderID, courierID)
	if !errors.Is(err, ErrCourierUnavailable) {
		t.Fatalf("err = %v, want ErrCourierUnavailable", err)
	}

	// The order must come out of the failed claim untouched.
	stored := f.store.orderByID(orderID)
	if stored.Status != order.StatusReadyForPickup || stored.CourierID != nil {
		t.Fatalf("order mutated by failed claim: status=%s courier=%v", stored.Status, stored.CourierID)
	}
}

func TestClaimWrongFleet(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	restA := uuid.New()
	restB := uuid.New()
	platformBranch := f.addBranch(restB, nearPoint, nil, true)
	fleetBranch := f.addBranch(restA, nearPoint, nil, false)
	platformOrder := f.addReadyOrder(platformBranch, 2*time.Minute)
	fleetOrder := f.addReadyOrder(fleetBranch, time.Minute)

	fleetCourier := f.addFleetCourier("Memo", courier.StatusOnline, &basePoint, restA)
	platformCourier := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)

	if _, err := f.svc.Claim(ctx, platformOrder, fleetCourier); !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("fleet courier on platform order: err = %v, want ErrOrderTaken", err)
	}
	if _, err := f.svc.Claim(ctx, fleetOrder, platformCourier); !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("platform courier on fleet order: err = %v, want ErrOrderTaken", err)
	}
}

func TestClaimUnknownCourier(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	orderID := f.addReadyOrder(branch, time.Minute)

	if _, err := f.svc.Claim(ctx, orderID, uuid.New()); !errors.Is(err, courier.ErrProfileNotFound) {
		t.Fatalf("err = %v, want ErrProfileNotFound", err)
	}
}

func TestCompleteDeliversAndFreesCourier(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	rest := uuid.New()
	branch := f.addBranch(rest, nearPoint, nil, true)
	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	orderID := f.addActiveDelivery(branch, courierID, 30*time.Minute, 10*time.Minute)

	res, err := f.svc.Complete(ctx, orderID, courierID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if res.Order.Status != order.StatusDelivered {
		t.Errorf("status = %s, want %s", res.Order.Status, order.StatusDelivered)
	}
	if res.Order.DeliveredAt == nil {
		t.Error("deliveredAt not set")
	}
	if got := res.Stats.PlacedToDeliveredSeconds; got < 1795 || got > 1805 {
		t.Errorf("placedToDeliveredSeconds = %d, want ~1800", got)
	}
	if got := res.Stats.ClaimedToDeliveredSeconds; got < 595 || got > 605 {
		t.Errorf("claimedToDeliveredSeconds = %d, want ~600", got)
	}
	if got := f.store.courierStatus(courierID); got != courier.StatusOnline {
		t.Errorf("courier status = %s, want online", got)
	}

	for _, topic := range []string{notify.UserTopic(f.customerID), notify.RestaurantTopic(rest)} {
		events := f.pub.byTopic(topic)
		if len(events) != 1 {
			t.Fatalf("topic %s: got %d events, want 1", topic, len(events))
		}
		e := events[0]
		if e.Event != notify.EventOrderDelivered {
			t.Errorf("topic %s: event = %s", topic, e.Event)
		}
		if _, ok := e.Data["placedToDeliveredSeconds"]; !ok {
			t.Errorf("topic %s: missing delivery stats in %v", topic, e.Data)
		}
	}
}

func TestCompleteWrongCourier(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	owner := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	other := f.addPlatformCourier("Memo", courier.StatusOnline, &basePoint)
	orderID := f.addActiveDelivery(branch, owner, 30*time.Minute, 10*time.Minute)

	if _, err := f.svc.Complete(ctx, orderID, other); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}

	stored := f.store.orderByID(orderID)
	if stored.Status != order.StatusOutForDelivery || stored.CourierID == nil || *stored.CourierID != owner {
		t.Fatalf("delivery mutated by foreign completion: status=%s courier=%v", stored.Status, stored.CourierID)
	}
	if got := f.store.courierStatus(owner); got != courier.StatusBusy {
		t.Errorf("owner status = %s, want busy", got)
	}
}

func TestCompleteRequiresActiveDelivery(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	branch := f.addBranch(uuid.New(), nearPoint, nil, true)
	courierID := f.addPlatformCourier("Rique", courier.StatusOnline, &basePoint)
	orderID := f.addReadyOrder(branch, time.Minute)

	if _, err := f.svc.Complete(ctx, orderID, courierID); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}
	if _, err := f.svc.Complete(ctx, uuid.New(), courierID); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("unknown order err = %v, want ErrNotAssigned", err)
	}
}
