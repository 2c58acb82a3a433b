package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterContext(t *testing.T, target string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", target, nil)
	return c
}

func TestFeedFilterViewDefaults(t *testing.T) {
	// The container shows everything flat unless threading is requested;
	// history pages default to the threaded tree.
	f := feedFilter(filterContext(t, "/feed/container"), "unrolled")
	assert.False(t, f.TopLevelOnly)

	f = feedFilter(filterContext(t, "/feed/container?view=threaded"), "unrolled")
	assert.True(t, f.TopLevelOnly)

	f = feedFilter(filterContext(t, "/feed/history?cursor=10"), "threaded")
	assert.True(t, f.TopLevelOnly)

	f = feedFilter(filterContext(t, "/feed/history?cursor=10&view=unrolled"), "threaded")
	assert.False(t, f.TopLevelOnly)
}

func TestFeedFilterTagsAndSearch(t *testing.T) {
	f := feedFilter(filterContext(t, "/feed/container?tags=ml&tags=posters&search=gpu"), "unrolled")
	require.Equal(t, []string{"ml", "posters"}, f.Tags)
	assert.Equal(t, "gpu", f.Search)
}
