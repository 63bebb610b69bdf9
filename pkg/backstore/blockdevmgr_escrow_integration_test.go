// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package backstore

import (
	"testing"

	"go.uber.org/zap"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/escrow"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

// These tests call BindClevis, which mounts a real tmpfs memory-private
// filesystem (pkg/escrow/privfs_linux.go) for the duration of the call and
// therefore needs CAP_SYS_ADMIN (or an unprivileged user namespace that
// permits tmpfs mounts). Run with -tags=integration on a host that allows
// it.

// Scenario 5: idempotent bind.
func TestIdempotentBind(t *testing.T) {
	pool := ids.NewPoolId()
	m := mustInitialize(t, pool, testPaths(t, 2), "", nil)

	cfg := escrow.Config{"url": "https://tang.example"}
	ok, err := m.BindClevis("p", cfg)
	if err != nil || !ok {
		t.Fatalf("first bind should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = m.BindClevis("p", escrow.Config{"url": "https://tang.example"})
	if err != nil {
		t.Fatalf("rebinding the same (pin, config) should not error: %v", err)
	}
	if ok {
		t.Fatal("rebinding the same (pin, config) should return false (idempotent no-op)")
	}

	if _, err := m.BindClevis("p", escrow.Config{"url": "https://other.example"}); err == nil {
		t.Fatal("rebinding a different config over an existing binding must fail")
	}
}

func TestBindClevisRollsBackOnPartialFailure(t *testing.T) {
	pool := ids.NewPoolId()
	tool := &fakeEscrowTool{failBindAfter: 2}
	m, err := Initialize(pool, testPaths(t, 3), testMdaBytes, "", zap.NewNop(), nil, tool, identityRand{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err = m.BindClevis("p", escrow.Config{})
	if err == nil {
		t.Fatal("expected the bind fan-out to fail partway through")
	}
	if tool.unbinds != 1 {
		t.Fatalf("expected exactly one rollback unbind (for the single member that bound before the failure), got %d", tool.unbinds)
	}
}
