// Package intentstest builds an intent store on an in-memory SQLite database for tests.
package intentstest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	dbpkg "github.com/angelmondragon/paylifecycle/pkg/db"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
)

const paymentIntentsTable = `
CREATE TABLE IF NOT EXISTS payment_intents (
  id TEXT PRIMARY KEY,
  preference_id TEXT NOT NULL,
  external_payment_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  expires_at DATETIME,
  last_status_check_at DATETIME,
  created_plan_id TEXT,
  payment_method TEXT,
  bank_code TEXT,
  gateway TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_intents_preference_id ON payment_intents(preference_id);`

const outboxEventsTable = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`

// Store bundles the service with the connection it writes to.
type Store struct {
	Service intents.Service
	Repo    intents.Repository
	DB      *gorm.DB
}

// Options tweaks the service under test.
type Options struct {
	Clock  clock.Clock
	Plans  intents.PlanProvisioner
	Logger *logger.Logger
}

// OpenDB returns a fresh in-memory database named after the test with the intent and outbox
// tables created. A single connection keeps the shared-cache database alive and serializes
// writers.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	return openDB(t, logger.Nop())
}

// openDB routes GORM's statement log through logg, so lookup misses stay quiet.
func openDB(t testing.TB, logg *logger.Logger) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbpkg.NewQueryLogger(logg, 0),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(paymentIntentsTable, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, conn.Exec(stmt).Error)
	}
	require.NoError(t, conn.Exec(outboxEventsTable).Error)
	return conn
}

// NewStore wires the real repository, outbox and service against OpenDB.
func NewStore(t testing.TB, opts Options) *Store {
	t.Helper()
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := openDB(t, logg)
	repo := intents.NewRepository(conn)
	svc, err := intents.NewService(intents.ServiceParams{
		Repository: repo,
		DB:         dbpkg.NewFromGorm(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logg, outbox.WithClock(opts.Clock)),
		Plans:      opts.Plans,
		Clock:      opts.Clock,
		Logger:     logg,
	})
	require.NoError(t, err)
	return &Store{Service: svc, Repo: repo, DB: conn}
}

// OutboxCount returns the number of queued events of the given type.
func (s *Store) OutboxCount(t testing.TB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, s.DB.Table("outbox_events").Where("event_type = ?", eventType).Count(&count).Error)
	return count
}
