package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/JohnPitter/church-management-sub010/internal/testing/guard"
)

func TestTestModeFlag(t *testing.T) {
	require.True(t, InTestMode(), "the guard import must flip the test-mode flag")

	t.Setenv("CHURCH_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv("CHURCH_TEST_MODE", "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
