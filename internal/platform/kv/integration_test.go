//go:build integration

package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"agentpass/internal/platform/kv"
	"agentpass/internal/platform/kv/kvtest"
	"agentpass/pkg/testutil/containers"
)

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.NewRedisContainer(t)
	suite.Run(t, &kvtest.StoreSuite{NewStore: func() kv.Store {
		if err := rc.FlushAll(context.Background()); err != nil {
			t.Fatalf("flush redis: %v", err)
		}
		return kv.NewRedisStore(rc.Client, "test")
	}})
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pc := containers.NewPostgresContainer(t)
	suite.Run(t, &kvtest.StoreSuite{NewStore: func() kv.Store {
		if err := pc.Truncate(context.Background(), "kv_entries"); err != nil {
			t.Fatalf("truncate kv_entries: %v", err)
		}
		return kv.NewPostgresStore(pc.DB)
	}})
}
