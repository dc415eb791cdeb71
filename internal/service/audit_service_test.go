package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docqa-go/internal/model"
	"docqa-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditService_LogsAndPersists(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log.SetLogger(zap.New(core))
	t.Cleanup(func() { log.SetLogger(zap.NewNop()) })

	repo := &fakeAuditRepo{}
	svc := NewAuditService(repo)
	svc.Record(context.Background(), &model.AuditEntry{
		UserID:          "alice",
		ConversationID:  "c1",
		Query:           "q",
		ResponseSummary: strings.Repeat("r", 800),
		WasRefused:      true,
	})

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, true, fields["was_refused"])

	stored := repo.all()
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].Timestamp.IsZero())
	assert.Len(t, stored[0].ResponseSummary, 500)
	assert.NotNil(t, stored[0].DocumentsAccessed)
}

func TestAuditService_PersistFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log.SetLogger(zap.New(core))
	t.Cleanup(func() { log.SetLogger(zap.NewNop()) })

	svc := NewAuditService(&fakeAuditRepo{err: errors.New("db down")})
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), &model.AuditEntry{UserID: "alice"})
	})
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestAuditService_LogOnly(t *testing.T) {
	svc := NewAuditService(nil)
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), &model.AuditEntry{UserID: "alice"})
	})
}
