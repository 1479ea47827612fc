// README: Smoke cases; seeds a fixture, walks the claim flow, and hammers the hot paths.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	fix   fixture
}

// fixture holds the throwaway rows the seed case writes. Later cases walk
// the ready order through claim and complete; the contended order exists for
// the concurrency check.
type fixture struct {
	customerID  uuid.UUID
	courierID   uuid.UUID
	branchID    uuid.UUID
	addressID   uuid.UUID
	orderID     uuid.UUID
	contendedID uuid.UUID
	gatewayRef  string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Seed: marketplace fixture",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.Seed {
					return Result{Status: "SKIP", Note: "seed=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				if err := r.seedFixture(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},

		// Courier surface
		{
			Name: "Driver: set availability online",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/availability", map[string]any{
					"driverId": r.fix.courierID.String(),
					"status":   "online",
				}, 200)
			},
		},
		{
			Name: "Driver: location ping",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPut, base+"/api/driver/location", map[string]any{
					"driverId":  r.fix.courierID.String(),
					"latitude":  20.4805,
					"longitude": -99.2310,
				}, 200)
			},
		},
		{
			Name: "Driver: location rejects bad coords",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPut, base+"/api/driver/location", map[string]any{
					"driverId":  r.fix.courierID.String(),
					"latitude":  123.0,
					"longitude": 456.0,
				}, 400)
			},
		},

		// Claim flow
		{
			Name: "Dispatch: feed lists the ready order",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				var res struct {
					Orders []struct {
						ID uuid.UUID `json:"id"`
					} `json:"orders"`
				}
				status, latency, err := r.call(ctx, http.MethodGet,
					base+"/api/driver/orders/available?driverId="+r.fix.courierID.String(), nil, &res)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
				}
				for _, o := range res.Orders {
					if o.ID == r.fix.orderID {
						return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("orders=%d", len(res.Orders))}
					}
				}
				return Result{Status: "FAIL", Latency: latency, Note: "seeded order not in feed"}
			},
		},
		{
			Name: "Dispatch: feed requires driverId",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.doJSON(ctx, http.MethodGet, base+"/api/driver/orders/available", nil, 400)
			},
		},
		{
			Name: "Dispatch: claim ready order",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.orderID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/orders/"+r.fix.orderID.String()+"/claim",
					map[string]any{"driverId": r.fix.courierID.String()}, 200)
			},
		},
		{
			Name: "Dispatch: second claim conflicts",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.orderID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/orders/"+r.fix.orderID.String()+"/claim",
					map[string]any{"driverId": r.fix.courierID.String()}, 409)
			},
		},
		{
			Name: "Dispatch: claim rejects empty body",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/orders/"+uuid.NewString()+"/claim", nil, 400)
			},
		},
		{
			Name: "Dispatch: complete delivery",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.orderID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/orders/"+r.fix.orderID.String()+"/complete",
					map[string]any{"driverId": r.fix.courierID.String()}, 200)
			},
		},
		{
			Name: "Order: delivered state visible",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.orderID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				var res struct {
					Order struct {
						Status string `json:"status"`
					} `json:"order"`
				}
				status, latency, err := r.call(ctx, http.MethodGet, base+"/api/orders/"+r.fix.orderID.String(), nil, &res)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || res.Order.Status != "delivered" {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d order=%s", status, res.Order.Status)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},

		// Payments
		{
			Name: "Webhook: capture confirms pending order",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.gatewayRef == "" {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/webhooks/payment", map[string]any{
					"gatewayRef": r.fix.gatewayRef,
					"approved":   true,
				}, 200)
			},
		},
		{
			Name: "Webhook: unknown ref -> 404",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.doJSON(ctx, http.MethodPost, base+"/api/webhooks/payment", map[string]any{
					"gatewayRef": "MP-SMOKE-UNKNOWN",
					"approved":   true,
				}, 404)
			},
		},
		{
			Name: "Driver: invalid availability -> 422",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/availability", map[string]any{
					"driverId": r.fix.courierID.String(),
					"status":   "parked",
				}, 422)
			},
		},

		// Concurrency
		{
			Name: "Concurrency: one winner per order",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.contendedID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return concurrentClaim(ctx, r, base+"/api/driver/orders/"+r.fix.contendedID.String()+"/claim")
			},
		},
		{
			Name: "Concurrency: winner completes",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.contendedID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return r.doJSON(ctx, http.MethodPost, base+"/api/driver/orders/"+r.fix.contendedID.String()+"/complete",
					map[string]any{"driverId": r.fix.courierID.String()}, 200)
			},
		},

		// Performance
		{
			Name: "Perf: location update throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.fix.courierID == uuid.Nil {
					return Result{Status: "SKIP", Note: "fixture not seeded"}
				}
				return perfLoad(ctx, r, http.MethodPut, base+"/api/driver/location", map[string]any{
					"driverId":  r.fix.courierID.String(),
					"latitude":  20.4811,
					"longitude": -99.2322,
				})
			},
		},

		// Needs a live observer
		manualCase("Presence: sweeper flips silent couriers offline", "stop pinging and watch driver_profiles after the stale window"),
		manualCase("Notify: order events fan out", "SUBSCRIBE to user_<id> and drivers_pool in redis-cli while the flow runs"),
	}
}

// seedFixture writes one customer, one online platform courier, a branch,
// and three orders: a ready one for the walk-through, a ready one for the
// contention case, and a pending one with a payment row for the webhook.
func (r *Runner) seedFixture(ctx context.Context) error {
	err := r.db.QueryRow(ctx,
		"INSERT INTO users (name, phone, email) VALUES ($1, $2, $3) RETURNING id",
		"Smoke Customer", "771-555-0100", "smoke-customer@delixmi.test",
	).Scan(&r.fix.customerID)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		"INSERT INTO user_roles (user_id, role) VALUES ($1, 'customer')", r.fix.customerID,
	); err != nil {
		return err
	}

	err = r.db.QueryRow(ctx,
		"INSERT INTO users (name, phone, email) VALUES ($1, $2, $3) RETURNING id",
		"Smoke Courier", "771-555-0101", "smoke-courier@delixmi.test",
	).Scan(&r.fix.courierID)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		"INSERT INTO user_roles (user_id, role) VALUES ($1, 'driver_platform')", r.fix.courierID,
	); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO driver_profiles (user_id, status, current_lat, current_lng, last_seen_at, kyc_status)
		 VALUES ($1, 'online', 20.48, -99.23, NOW(), 'approved')`, r.fix.courierID,
	); err != nil {
		return err
	}

	var restaurantID uuid.UUID
	err = r.db.QueryRow(ctx,
		"INSERT INTO restaurants (name) VALUES ('Smoke Tacos') RETURNING id",
	).Scan(&restaurantID)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx,
		`INSERT INTO branches (restaurant_id, name, phone, lat, lng, uses_platform_drivers)
		 VALUES ($1, 'Sucursal Centro', '771-555-0199', 20.48, -99.23, TRUE) RETURNING id`, restaurantID,
	).Scan(&r.fix.branchID)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO addresses (user_id, street, exterior_number, neighborhood, city, zip_code, lat, lng)
		 VALUES ($1, 'Av. Juarez', '12', 'Centro', 'Pachuca', '42000', 20.47, -99.22) RETURNING id`,
		r.fix.customerID,
	).Scan(&r.fix.addressID)
	if err != nil {
		return err
	}

	insertOrder := func(status string) (uuid.UUID, error) {
		var id uuid.UUID
		err := r.db.QueryRow(ctx,
			`INSERT INTO orders (customer_id, branch_id, address_id, status, subtotal, delivery_fee, platform_fee, total, payment_method)
			 VALUES ($1, $2, $3, $4, 220, 30, 7.50, 257.50, 'card') RETURNING id`,
			r.fix.customerID, r.fix.branchID, r.fix.addressID, status,
		).Scan(&id)
		return id, err
	}

	if r.fix.orderID, err = insertOrder("ready_for_pickup"); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		"INSERT INTO order_items (order_id, name, quantity, unit_price) VALUES ($1, 'Tacos al pastor', 3, 45)",
		r.fix.orderID,
	); err != nil {
		return err
	}
	if r.fix.contendedID, err = insertOrder("ready_for_pickup"); err != nil {
		return err
	}

	pendingID, err := insertOrder("pending")
	if err != nil {
		return err
	}
	r.fix.gatewayRef = "MP-SMOKE-" + uuid.NewString()[:8]
	if _, err := r.db.Exec(ctx,
		"INSERT INTO payments (order_id, amount, method, status, gateway_ref) VALUES ($1, 257.50, 'card', 'pending', $2)",
		pendingID, r.fix.gatewayRef,
	); err != nil {
		return err
	}
	return nil
}

// call sends one JSON request and decodes the response into out when asked.
func (r *Runner) call(ctx context.Context, method, url string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, latency, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency, nil
}

func (r *Runner) doJSON(ctx context.Context, method, url string, body any, want ...int) Result {
	status, latency, err := r.call(ctx, method, url, body, nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if contains(want, status) {
		return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

// concurrentClaim fires the same claim from many goroutines. Exactly one
// must land; everyone else gets a conflict.
func concurrentClaim(ctx context.Context, r *Runner, url string) Result {
	payload := map[string]any{"driverId": r.fix.courierID.String()}
	b, _ := json.Marshal(payload)
	wg := sync.WaitGroup{}
	succ := 0
	mu := sync.Mutex{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			mu.Lock()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				succ++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succ == 1 {
		return Result{Status: "PASS", Note: "success=1"}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d", succ)}
}

func perfLoad(ctx context.Context, r *Runner, method, url string, payload any) Result {
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var count int64
	var errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				req, _ := http.NewRequestWithContext(ctx, method, url, strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
