package authorization

import (
	"fmt"
	"strings"
	"testing"

	"github.com/casbin/casbin/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newService(t *testing.T, conn *gorm.DB, raw string) *Service {
	t.Helper()
	keys, err := ParseAPIKeys(raw)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	svc, err := New(enforcer, keys, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestParseAPIKeys(t *testing.T) {
	keys, err := ParseAPIKeys(" ops:operator:s3cret , dash:Viewer:abc:def ")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "ops", keys[0].Name)
	assert.Equal(t, RoleOperator, keys[0].Role)
	assert.Equal(t, HashAPIKey("s3cret"), keys[0].Hash)
	assert.Equal(t, RoleViewer, keys[1].Role)
	assert.Equal(t, HashAPIKey("abc:def"), keys[1].Hash)

	none, err := ParseAPIKeys("")
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, bad := range []string{"nope", "a:admin:k", "a:viewer:", "a:viewer:x,a:operator:y"} {
		_, err := ParseAPIKeys(bad)
		assert.ErrorIs(t, err, ErrInvalidKeyEntry, bad)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newService(t, setupTestDB(t), "ops:operator:s3cret")
	assert.True(t, svc.Enabled())

	key, err := svc.Authenticate("s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops", key.Name)

	_, err = svc.Authenticate("wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Authenticate("  ")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newService(t, setupTestDB(t), "ops:operator:op,dash:viewer:vw")

	viewer, err := svc.Authenticate("vw")
	require.NoError(t, err)
	operator, err := svc.Authenticate("op")
	require.NoError(t, err)

	assert.NoError(t, svc.Authorize(viewer, ObjectInvoice, ActionInvoiceView))
	assert.NoError(t, svc.Authorize(viewer, ObjectInvoice, ActionInvoiceEnrich))
	assert.NoError(t, svc.Authorize(viewer, ObjectBatch, ActionBatchView))
	assert.ErrorIs(t, svc.Authorize(viewer, ObjectInvoice, ActionInvoiceCancel), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(viewer, ObjectBatch, ActionBatchRun), ErrForbidden)

	assert.NoError(t, svc.Authorize(operator, ObjectInvoice, ActionInvoiceCancel))
	assert.NoError(t, svc.Authorize(operator, ObjectJob, ActionJobSync))
	assert.NoError(t, svc.Authorize(operator, ObjectInvoice, ActionInvoiceView))

	assert.ErrorIs(t, svc.Authorize(operator, "", ActionInvoiceView), ErrInvalidObject)
}

func TestRoleChangeReplacesPersistedGrouping(t *testing.T) {
	conn := setupTestDB(t)
	_ = newService(t, conn, "ops:operator:op")

	svc := newService(t, conn, "ops:viewer:op")
	key, err := svc.Authenticate("op")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Authorize(key, ObjectInvoice, ActionInvoicePay), ErrForbidden)
}

func TestDisabledWithoutKeys(t *testing.T) {
	var svc *Service
	assert.False(t, svc.Enabled())
	assert.False(t, (&Service{}).Enabled())
}

func TestEncodedAPIKeys(t *testing.T) {
	encoded, err := EncodeAPIKey("hashed-secret")
	require.NoError(t, err)

	keys, err := ParseAPIKeys("ops:operator:plain, ci:viewer:" + encoded)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Empty(t, keys[1].Hash)

	svc, err := New(mustEnforcer(t), keys, zap.NewNop())
	require.NoError(t, err)

	key, err := svc.Authenticate("hashed-secret")
	require.NoError(t, err)
	assert.Equal(t, "ci", key.Name)
	assert.ErrorIs(t, svc.Authorize(key, ObjectInvoice, ActionInvoicePay), ErrForbidden)

	_, err = svc.Authenticate(encoded)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = ParseAPIKeys("ci:viewer:$argon2id$v=19$m=1,t=1$bad")
	assert.ErrorIs(t, err, ErrInvalidKeyEntry)
}

func mustEnforcer(t *testing.T) *casbin.SyncedEnforcer {
	t.Helper()
	enforcer, err := NewEnforcer(setupTestDB(t))
	require.NoError(t, err)
	return enforcer
}
