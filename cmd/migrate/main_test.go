package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingMigrator 记录调用并返回预设版本
type recordingMigrator struct {
	calls   []string
	version uint
	dirty   bool
	err     error
}

func (m *recordingMigrator) RunMigrations(dir string) error {
	m.calls = append(m.calls, "up "+dir)
	m.version = 4
	return m.err
}

func (m *recordingMigrator) MigrateDown(dir string, steps int) error {
	m.calls = append(m.calls, fmt.Sprintf("down %s %d", dir, steps))
	m.version -= uint(steps)
	return m.err
}

func (m *recordingMigrator) MigrateToVersion(dir string, version uint) error {
	m.calls = append(m.calls, fmt.Sprintf("goto %s %d", dir, version))
	m.version = version
	return m.err
}

func (m *recordingMigrator) ForceMigrationVersion(dir string, version uint) error {
	m.calls = append(m.calls, fmt.Sprintf("force %s %d", dir, version))
	m.version, m.dirty = version, false
	return m.err
}

func (m *recordingMigrator) MigrationVersion(dir string) (uint, bool, error) {
	m.calls = append(m.calls, "version "+dir)
	return m.version, m.dirty, nil
}

func TestRun(t *testing.T) {
	tests := []struct {
		name  string
		opts  options
		start uint
		calls []string
		want  uint
	}{
		{"up", options{action: "up", dir: "migrations"}, 0, []string{"up migrations", "version migrations"}, 4},
		{"down", options{action: "down", steps: 2, dir: "migrations"}, 4, []string{"down migrations 2", "version migrations"}, 2},
		{"version reports only", options{action: "version", dir: "migrations"}, 3, []string{"version migrations"}, 3},
		{"version with target", options{action: "version", target: 3, dir: "migrations"}, 4, []string{"goto migrations 3", "version migrations"}, 3},
		{"force", options{action: "force", target: 2, dir: "migrations"}, 3, []string{"force migrations 2", "version migrations"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingMigrator{version: tt.start}
			require.NoError(t, run(m, tt.opts, zap.NewNop()))
			assert.Equal(t, tt.calls, m.calls)
			assert.Equal(t, tt.want, m.version)
		})
	}
}

func TestRun_Errors(t *testing.T) {
	m := &recordingMigrator{}
	assert.ErrorIs(t, run(m, options{action: "status"}, zap.NewNop()), errUsage)
	assert.Error(t, run(m, options{action: "down", steps: 0}, zap.NewNop()))
	assert.Empty(t, m.calls)

	boom := errors.New("dirty database version 3")
	m = &recordingMigrator{err: boom}
	assert.ErrorIs(t, run(m, options{action: "up"}, zap.NewNop()), boom)
	assert.Equal(t, []string{"up "}, m.calls)
}

func TestUsageListsSchemaVersions(t *testing.T) {
	var buf bytes.Buffer
	usage(&buf)
	assert.Contains(t, buf.String(), "stock adjustment ledger")
	assert.Contains(t, buf.String(), "-action=version -target=3")
}
