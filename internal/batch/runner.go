// Package batch portions every open order on a bounded pool of workers.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portionchef/internal/portion"
	"portionchef/internal/recipe"
)

var (
	// ErrPortioning marks an order whose data cannot be portioned.
	ErrPortioning = errors.New("portioning error")
	// ErrOrderData marks an order list that is missing required fields.
	ErrOrderData = errors.New("order data error")
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 5

// maxZeroTargets is the most nutrition goals a customer may leave at zero.
const maxZeroTargets = 2

// Store is the subset of recipe.Store the runner needs.
type Store interface {
	GetDish(ctx context.Context, dishID string) (*recipe.Recipe, error)
	GetCustomer(ctx context.Context, customerID string) (*recipe.Customer, error)
	GetConstraintRecord(ctx context.Context, profileID string) (*recipe.ConstraintRecord, error)
	GetOrder(ctx context.Context, orderID string) (*recipe.Order, error)
	ListOpenOrders(ctx context.Context) ([]*recipe.Order, error)
	SaveServing(ctx context.Context, serving *recipe.Serving) error
}

// Optimizer portions one request.
type Optimizer interface {
	Optimize(req portion.Request) (*portion.Result, error)
	Baseline(req portion.Request) (*portion.Result, error)
}

// Report summarizes one run. Failures are sorted by order id.
type Report struct {
	RunID    string   `json:"run_id"`
	Finished int      `json:"finished"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures"`
}

// Runner processes open orders.
type Runner struct {
	store     Store
	optimizer Optimizer
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates a new Runner. Non-positive workers fall back to DefaultWorkers.
func NewRunner(store Store, optimizer Optimizer, workers int, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		optimizer: optimizer,
		workers:   workers,
		logger:    logger,
		now:       time.Now,
	}
}

// Run portions every open order. A failed order does not stop the others; its error
// is collected in the report. Malformed orders abort the run before any work starts.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Failures: []string{}}
	logger := r.logger.With(zap.String("run_id", report.RunID))

	orders, err := r.store.ListOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	if err := validateOrders(orders); err != nil {
		logger.Error("order data rejected", zap.Error(err))
		report.Failures = append(report.Failures, err.Error())
		return report, err
	}

	logger.Info("portioning open orders", zap.Int("orders", len(orders)), zap.Int("workers", r.workers))

	type failure struct {
		orderID string
		msg     string
	}
	var (
		mu       sync.Mutex
		failures []failure
	)

	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			_, err := r.process(ctx, order)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				prefix := "Error processing order"
				if errors.Is(err, ErrPortioning) {
					prefix = "Portioning error for order"
				}
				failures = append(failures, failure{order.ID, fmt.Sprintf("%s %s: %v", prefix, order.ID, err)})
				logger.Warn("order failed", zap.String("order_id", order.ID), zap.Error(err))
				return nil
			}
			report.Finished++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].orderID < failures[j].orderID })
	for _, f := range failures {
		report.Failures = append(report.Failures, f.msg)
	}
	report.Failed = len(failures)

	logger.Info("portioning run finished", zap.Int("finished", report.Finished), zap.Int("failed", report.Failed))
	return report, nil
}

// ProcessOrder portions a single stored order and persists its serving.
func (r *Runner) ProcessOrder(ctx context.Context, orderID string) (*recipe.Serving, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, nil
	}
	if err := validateOrders([]*recipe.Order{order}); err != nil {
		return nil, err
	}
	return r.process(ctx, order)
}

// validateOrders reports every order missing a customer or a dish in one error.
func validateOrders(orders []*recipe.Order) error {
	var problems []string
	for _, o := range orders {
		id := o.ID
		if id == "" {
			id = "Unknown"
		}
		if o.CustomerID == "" {
			problems = append(problems, fmt.Sprintf("Order %s missing required customer data", id))
			continue
		}
		if o.DishID == "" {
			problems = append(problems, fmt.Sprintf("Order %s missing required dish data", id))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: found %d problematic orders: %s", ErrOrderData, len(problems), strings.Join(problems, "; "))
	}
	return nil
}

func (r *Runner) process(ctx context.Context, order *recipe.Order) (*recipe.Serving, error) {
	req, err := r.buildRequest(ctx, order)
	if err != nil {
		return nil, err
	}

	var res *portion.Result
	if order.SkipPortioning {
		res, err = r.optimizer.Baseline(req)
	} else {
		res, err = r.optimizer.Optimize(req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to portion order %s: %w", order.ID, err)
	}

	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	serving := &recipe.Serving{
		OrderID:      order.ID,
		DishName:     req.Recipe.DishName,
		ReviewNeeded: res.Results.ReviewNeeded,
		Result:       body,
		CreatedAt:    r.now(),
	}
	if err := r.store.SaveServing(ctx, serving); err != nil {
		return nil, fmt.Errorf("failed to save serving: %w", err)
	}

	r.logger.Info("order portioned",
		zap.String("order_id", order.ID),
		zap.String("dish", req.Recipe.DishName),
		zap.Bool("review_needed", serving.ReviewNeeded),
		zap.Bool("skip_portioning", order.SkipPortioning),
	)
	return serving, nil
}

// buildRequest loads everything one order needs and rejects data the optimizer
// cannot portion.
func (r *Runner) buildRequest(ctx context.Context, order *recipe.Order) (portion.Request, error) {
	customer, err := r.store.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		return portion.Request{}, fmt.Errorf("failed to get customer: %w", err)
	}
	if customer == nil {
		return portion.Request{}, fmt.Errorf("%w: customer %s not found", ErrPortioning, order.CustomerID)
	}

	dish, err := r.store.GetDish(ctx, order.DishID)
	if err != nil {
		return portion.Request{}, fmt.Errorf("failed to get dish: %w", err)
	}
	if dish == nil {
		return portion.Request{}, fmt.Errorf("%w: dish %s not found", ErrPortioning, order.DishID)
	}
	if len(dish.Ingredients) == 0 {
		return portion.Request{}, fmt.Errorf("%w: dish %s has no ingredients", ErrPortioning, order.DishID)
	}

	targets := portion.NormalizeRequirements(customer.Requirements)
	if zero := zeroGoals(targets); len(zero) > maxZeroTargets {
		return portion.Request{}, fmt.Errorf("%w: more than %d zero nutrition goals for %s: %s",
			ErrPortioning, maxZeroTargets, customer.Identifier, strings.Join(zero, ", "))
	}
	for _, ing := range dish.Ingredients {
		if ing.BaseGrams == 0 {
			return portion.Request{}, fmt.Errorf("%w: ingredient %s has zero starting grams in dish %s",
				ErrPortioning, ing.Name, order.DishID)
		}
	}

	profile := recipe.DefaultConstraintProfile()
	var constraints map[string]recipe.NutrientConstraint
	if customer.ConstraintProfileID != "" {
		rec, err := r.store.GetConstraintRecord(ctx, customer.ConstraintProfileID)
		if err != nil {
			return portion.Request{}, fmt.Errorf("failed to get constraint profile: %w", err)
		}
		if rec != nil {
			profile = rec.Profile
			constraints = rec.NutrientConstraints
		} else {
			r.logger.Warn("constraint profile not found, using defaults",
				zap.String("order_id", order.ID),
				zap.String("profile_id", customer.ConstraintProfileID),
			)
		}
	}
	if customer.HasTag(recipe.TagDoubleSauce) {
		profile.DoubleSauce = true
	}

	return portion.Request{
		Recipe:       *dish,
		Requirements: customer.Requirements,
		Constraints:  constraints,
		Profile:      profile,
	}, nil
}

var goalLabels = map[recipe.Nutrient]string{
	recipe.Kcal:         "calories",
	recipe.Protein:      "protein",
	recipe.Carbohydrate: "carbs",
	recipe.Fat:          "fat",
	recipe.Fiber:        "fiber",
}

func zeroGoals(targets portion.Requirements) []string {
	var out []string
	for _, n := range []recipe.Nutrient{recipe.Kcal, recipe.Protein, recipe.Carbohydrate, recipe.Fat, recipe.Fiber} {
		if _, ok := targets.Target(n); !ok {
			out = append(out, goalLabels[n])
		}
	}
	return out
}
