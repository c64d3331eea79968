package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/datasync/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func TestRegisterDBTracing(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		db := openTracedDB(t)
		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{}, zap.NewNop()))
		assert.Nil(t, db.Callback().Query().Get("slow_query:after_query"))
	})

	t.Run("statements over the threshold are logged and spanned", func(t *testing.T) {
		sr := setupTestTracer(t)
		db := openTracedDB(t)
		core, logs := observer.New(zap.WarnLevel)

		require.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{
			Enabled:         true,
			SlowQueryThresh: time.Nanosecond,
			DBSystem:        "sqlite",
		}, zap.New(core)))

		ctx := context.Background()
		require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
		var rows []tracedRow
		require.NoError(t, db.WithContext(ctx).Find(&rows).Error)

		assert.GreaterOrEqual(t, logs.FilterMessage("Slow target query").Len(), 2)
		assert.NotEmpty(t, sr.Ended(), "otelgorm records statement spans")
	})
}
