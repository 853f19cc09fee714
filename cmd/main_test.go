package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"knowledge-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagScope(t *testing.T) {
	defer func() { scopeBot, scopeTenant = 0, 0 }()

	scopeBot, scopeTenant = 0, 0
	_, err := flagScope()
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	scopeTenant = 3
	scope, err := flagScope()
	require.NoError(t, err)
	assert.Equal(t, models.ByTenant(3), scope)

	scopeBot = 9
	scope, err = flagScope()
	require.NoError(t, err)
	assert.Equal(t, models.ByBot(9), scope)
}

func TestFileRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("Opening hours are 9 to 5.\r\n"), 0o644))

	req, err := fileRequest(models.IngestRequest{TenantID: 1}, path)
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeFile, req.ContentType)
	assert.Equal(t, "faq.txt", req.Title)
	assert.Equal(t, "Opening hours are 9 to 5.", req.Content)
	assert.Equal(t, "faq.txt", req.Metadata[models.MetaFilename])
	assert.NoError(t, req.Validate())
}

func TestUserFacing(t *testing.T) {
	dep := models.NewDependencyError("scraper", models.KindForbidden, 403, errors.New("status 403"))
	err := userFacing(dep)
	assert.ErrorIs(t, err, dep)
	assert.Contains(t, err.Error(), "Access forbidden (403)")

	plain := errors.New("boom")
	assert.Equal(t, plain, userFacing(plain))
}
