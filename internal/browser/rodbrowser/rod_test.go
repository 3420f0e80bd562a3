package rodbrowser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

func TestSessionAgainstRod(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body>
<button class="more" onclick="document.body.insertAdjacentHTML('beforeend','<p id=late>late content</p>')">more</button>
</body></html>`)
	}))
	defer srv.Close()

	b, err := New(Config{Headless: true, UserAgent: "RodAgent", NavigationTimeout: 10 * time.Second}, zap.NewNop())
	if err != nil {
		t.Skipf("rod unavailable: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	s, err := b.NewSession(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Navigate(ctx, srv.URL))
	require.NoError(t, s.Click(ctx, "button.more"))
	require.NoError(t, s.WaitFor(ctx, "#late", 5*time.Second))
	require.ErrorIs(t, s.Click(ctx, "#never"), crawler.ErrInteraction)
	require.ErrorIs(t, s.WaitFor(ctx, "#never", 200*time.Millisecond), crawler.ErrInteraction)

	var ua string
	require.NoError(t, s.RunScript(ctx, "navigator.userAgent", &ua))
	require.Equal(t, "RodAgent", ua)

	html, err := s.HTML(ctx)
	require.NoError(t, err)
	require.Contains(t, html, "late content")

	require.NoError(t, s.Close())
	require.NoError(t, b.Close())
	require.ErrorIs(t, s.Navigate(ctx, srv.URL), crawler.ErrSessionFatal)
}
