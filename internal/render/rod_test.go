package render

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentKernel/internal/webextract"
)

func TestRodRendererScriptPage(t *testing.T) {
	if os.Getenv("AGENTKERNEL_TEST_BROWSER") == "" {
		t.Skip("AGENTKERNEL_TEST_BROWSER not set")
	}

	body := strings.Repeat("动态内容", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><head><title>渲染页</title></head><body><nav>menu</nav><article id="a"></article>
<script>setTimeout(() => { document.getElementById('a').innerText = %q }, 100)</script></body></html>`, body)
	}))
	defer srv.Close()

	r := NewRodRenderer(BrowserConfig{Stability: StabilityConfig{PollInterval: 100 * time.Millisecond}})
	defer r.Close()

	res, err := r.Render(context.Background(), webextract.DynamicRequest{URL: srv.URL, Timeout: 15 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "渲染页", res.Title)
	assert.Equal(t, body, res.Text)
}
