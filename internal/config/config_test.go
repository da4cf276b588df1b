package config_test

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/leadscore/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.MaxScore, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 5)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.MaxBatch, convey.ShouldEqual, 1000)
			convey.So(cfg.MaxAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.BackoffBaseMS, convey.ShouldEqual, 200)
			convey.So(cfg.BackoffMaxMS, convey.ShouldEqual, 30_000)
			convey.So(cfg.LockStripes, convey.ShouldEqual, 64)
			convey.So(cfg.Storage, convey.ShouldEqual, config.StorageMemory)
		})
	})
}
