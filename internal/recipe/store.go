package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store defines the interface for the records the portioning service reads and writes.
type Store interface {
	GetDish(ctx context.Context, dishID string) (*Recipe, error)
	SaveDish(ctx context.Context, dish *Recipe) error
	SetDishImagePath(ctx context.Context, dishID, imagePath string) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	SaveCustomer(ctx context.Context, customer *Customer) error
	GetConstraintRecord(ctx context.Context, profileID string) (*ConstraintRecord, error)
	SaveConstraintRecord(ctx context.Context, record *ConstraintRecord) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOpenOrders(ctx context.Context) ([]*Order, error)
	SaveOrder(ctx context.Context, order *Order) error
	SaveServing(ctx context.Context, serving *Serving) error
	GetServing(ctx context.Context, orderID string) (*Serving, error)
}

const (
	orderStatusOpen      = "open"
	orderStatusPortioned = "portioned"
)

var schema = []struct {
	table string
	ddl   string
}{
	{"dishes", `
	CREATE TABLE IF NOT EXISTS dishes (
		dish_id TEXT PRIMARY KEY,
		dish_name TEXT NOT NULL,
		category TEXT,
		ingredients JSONB,
		image_path TEXT
	);`},
	{"customers", `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		identifier TEXT,
		requirements JSONB,
		constraint_profile_id TEXT,
		customization_tags JSONB
	);`},
	{"constraint_profiles", `
	CREATE TABLE IF NOT EXISTS constraint_profiles (
		profile_id TEXT PRIMARY KEY,
		nutrient_constraints JSONB,
		profile JSONB
	);`},
	{"open_orders", `
	CREATE TABLE IF NOT EXISTS open_orders (
		order_id TEXT PRIMARY KEY,
		customer_id TEXT,
		dish_id TEXT,
		skip_portioning BOOLEAN DEFAULT FALSE,
		status TEXT DEFAULT 'open'
	);`},
	{"client_servings", `
	CREATE TABLE IF NOT EXISTS client_servings (
		order_id TEXT PRIMARY KEY,
		dish_name TEXT,
		review_needed BOOLEAN,
		result JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);`},
}

// PostgresStore implements the Store interface for PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgresStore and makes sure its tables exist.
func NewPostgresStore(dataSourceName string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, t := range schema {
		if _, err := db.Exec(t.ddl); err != nil {
			return nil, fmt.Errorf("failed to create %s table: %w", t.table, err)
		}
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDish retrieves a dish by id. Special-case tags are applied on the way out so
// rows written before tagging existed are covered too.
func (s *PostgresStore) GetDish(ctx context.Context, dishID string) (*Recipe, error) {
	var r Recipe
	var category sql.NullString
	var imagePath sql.NullString
	var ingredientsJSON []byte

	err := s.db.QueryRowContext(ctx, "SELECT dish_id, dish_name, category, ingredients, image_path FROM dishes WHERE dish_id = $1", dishID).Scan(
		&r.ID,
		&r.DishName,
		&category,
		&ingredientsJSON,
		&imagePath,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Dish not found
		}
		return nil, fmt.Errorf("failed to get dish: %w", err)
	}
	r.Category = Category(category.String)
	r.ImagePath = imagePath.String

	if len(ingredientsJSON) > 0 {
		if err := json.Unmarshal(ingredientsJSON, &r.Ingredients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
		}
	}
	TagSpecialCases(&r)

	return &r, nil
}

// SaveDish saves a dish, tagging its special cases first.
func (s *PostgresStore) SaveDish(ctx context.Context, dish *Recipe) error {
	TagSpecialCases(dish)
	ingredientsJSON, err := json.Marshal(dish.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO dishes (dish_id, dish_name, category, ingredients, image_path) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (dish_id) DO UPDATE SET dish_name = $2, category = $3, ingredients = $4, image_path = $5",
		dish.ID,
		dish.DishName,
		string(dish.Category),
		ingredientsJSON,
		dish.ImagePath,
	)
	if err != nil {
		return fmt.Errorf("failed to save dish: %w", err)
	}

	return nil
}

// SetDishImagePath records where the dish photo used on serving labels lives.
func (s *PostgresStore) SetDishImagePath(ctx context.Context, dishID, imagePath string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE dishes SET image_path = $2 WHERE dish_id = $1", dishID, imagePath)
	if err != nil {
		return fmt.Errorf("failed to set dish image path: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to set dish image path: dish %s not found", dishID)
	}
	return nil
}

// GetCustomer retrieves a customer by id.
func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var c Customer
	var profileID sql.NullString
	var requirementsJSON, tagsJSON []byte

	err := s.db.QueryRowContext(ctx, "SELECT customer_id, identifier, requirements, constraint_profile_id, customization_tags FROM customers WHERE customer_id = $1", customerID).Scan(
		&c.ID,
		&c.Identifier,
		&requirementsJSON,
		&profileID,
		&tagsJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Customer not found
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.ConstraintProfileID = profileID.String

	if len(requirementsJSON) > 0 {
		if err := json.Unmarshal(requirementsJSON, &c.Requirements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &c.CustomizationTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal customization tags: %w", err)
		}
	}

	return &c, nil
}

// SaveCustomer saves a customer to the database.
func (s *PostgresStore) SaveCustomer(ctx context.Context, customer *Customer) error {
	requirementsJSON, err := json.Marshal(customer.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	tagsJSON, err := json.Marshal(customer.CustomizationTags)
	if err != nil {
		return fmt.Errorf("failed to marshal customization tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO customers (customer_id, identifier, requirements, constraint_profile_id, customization_tags) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (customer_id) DO UPDATE SET identifier = $2, requirements = $3, constraint_profile_id = $4, customization_tags = $5",
		customer.ID,
		customer.Identifier,
		requirementsJSON,
		customer.ConstraintProfileID,
		tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}

	return nil
}

// GetConstraintRecord retrieves a constraint profile by id.
func (s *PostgresStore) GetConstraintRecord(ctx context.Context, profileID string) (*ConstraintRecord, error) {
	var rec ConstraintRecord
	var constraintsJSON, profileJSON []byte

	err := s.db.QueryRowContext(ctx, "SELECT profile_id, nutrient_constraints, profile FROM constraint_profiles WHERE profile_id = $1", profileID).Scan(
		&rec.ID,
		&constraintsJSON,
		&profileJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Profile not found
		}
		return nil, fmt.Errorf("failed to get constraint profile: %w", err)
	}

	if len(constraintsJSON) > 0 {
		if err := json.Unmarshal(constraintsJSON, &rec.NutrientConstraints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nutrient constraints: %w", err)
		}
	}
	rec.Profile = DefaultConstraintProfile()
	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, &rec.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constraint profile: %w", err)
		}
	}

	return &rec, nil
}

// SaveConstraintRecord saves a constraint profile to the database.
func (s *PostgresStore) SaveConstraintRecord(ctx context.Context, record *ConstraintRecord) error {
	constraintsJSON, err := json.Marshal(record.NutrientConstraints)
	if err != nil {
		return fmt.Errorf("failed to marshal nutrient constraints: %w", err)
	}
	profileJSON, err := json.Marshal(record.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal constraint profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO constraint_profiles (profile_id, nutrient_constraints, profile) VALUES ($1, $2, $3) ON CONFLICT (profile_id) DO UPDATE SET nutrient_constraints = $2, profile = $3",
		record.ID,
		constraintsJSON,
		profileJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save constraint profile: %w", err)
	}

	return nil
}

// GetOrder retrieves an order by id regardless of its status.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := s.db.GetContext(ctx, &o, "SELECT order_id, customer_id, dish_id, skip_portioning FROM open_orders WHERE order_id = $1", orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Order not found
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// ListOpenOrders returns every order that has not been portioned yet.
func (s *PostgresStore) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	var orders []*Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT order_id, customer_id, dish_id, skip_portioning FROM open_orders WHERE status = $1 ORDER BY order_id",
		orderStatusOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	return orders, nil
}

// SaveOrder saves an order as open.
func (s *PostgresStore) SaveOrder(ctx context.Context, order *Order) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO open_orders (order_id, customer_id, dish_id, skip_portioning, status) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (order_id) DO UPDATE SET customer_id = $2, dish_id = $3, skip_portioning = $4, status = $5",
		order.ID,
		order.CustomerID,
		order.DishID,
		order.SkipPortioning,
		orderStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// SaveServing persists a serving and closes its order in one transaction.
func (s *PostgresStore) SaveServing(ctx context.Context, serving *Serving) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin serving transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		"INSERT INTO client_servings (order_id, dish_name, review_needed, result) VALUES ($1, $2, $3, $4) ON CONFLICT (order_id) DO UPDATE SET dish_name = $2, review_needed = $3, result = $4, created_at = NOW()",
		serving.OrderID,
		serving.DishName,
		serving.ReviewNeeded,
		[]byte(serving.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to save serving: %w", err)
	}

	_, err = tx.ExecContext(ctx, "UPDATE open_orders SET status = $2 WHERE order_id = $1", serving.OrderID, orderStatusPortioned)
	if err != nil {
		return fmt.Errorf("failed to close order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit serving: %w", err)
	}
	return nil
}

// GetServing retrieves the serving persisted for an order.
func (s *PostgresStore) GetServing(ctx context.Context, orderID string) (*Serving, error) {
	var sv Serving
	var result []byte

	err := s.db.QueryRowContext(ctx, "SELECT order_id, dish_name, review_needed, result, created_at FROM client_servings WHERE order_id = $1", orderID).Scan(
		&sv.OrderID,
		&sv.DishName,
		&sv.ReviewNeeded,
		&result,
		&sv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Serving not found
		}
		return nil, fmt.Errorf("failed to get serving: %w", err)
	}
	sv.Result = json.RawMessage(result)

	return &sv, nil
}
