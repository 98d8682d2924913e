package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/metrics"
)

func listing(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1>Index</h1><a href="?C=N;O=D">Name</a><a href="../">Parent Directory</a>`)
	for _, n := range names {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, n, n)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func newPortal(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(m *metrics.Metrics) *Client {
	return NewClient(config.Portal{Timeout: 5 * time.Second, UserAgent: "ans-test"}, nil, m)
}

func TestClient_Get(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := testClient(m)

	body, err := c.Get(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "ans-test", gotUA)

	_, err = c.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPStatus))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesFetched.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesFetched.WithLabelValues("error")))
}

func TestClient_Links(t *testing.T) {
	srv := newPortal(t, map[string]string{
		"/PDA/": listing("demonstracoes_contabeis/", "operadoras/"),
	})

	links, err := testClient(nil).Links(context.Background(), srv.URL+"/PDA/")
	require.NoError(t, err)

	// sort-order and fragment links are dropped
	require.Len(t, links, 3)
	assert.Equal(t, "Parent Directory", links[0].Text)
	assert.Equal(t, "demonstracoes_contabeis/", links[1].Name())
	assert.Equal(t, srv.URL+"/PDA/demonstracoes_contabeis/", links[1].URL)
}

func TestLink_Name(t *testing.T) {
	assert.Equal(t, "2024/", Link{Text: " 2024/ ", Href: "2024/"}.Name())
	assert.Equal(t, "1T2024.zip", Link{Href: "/PDA/2024/1T2024.zip"}.Name())
	assert.Equal(t, "2024", Link{Href: "2024/"}.Name())
}

func TestNavigator_FindStatementsFolder(t *testing.T) {
	srv := newPortal(t, map[string]string{
		"/PDA/": `<a href="operadoras/">operadoras/</a><a href="demo/">Demonstrações Contábeis/</a>`,
	})
	nav := NewNavigator(testClient(nil))

	got, ok := nav.FindStatementsFolder(context.Background(), srv.URL+"/PDA")
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/PDA/demo/", got)
}

func TestNavigator_FindStatementsFolder_Missing(t *testing.T) {
	srv := newPortal(t, map[string]string{
		"/PDA/": listing("operadoras/", "demonstracoes/"),
	})
	nav := NewNavigator(testClient(nil))

	got, ok := nav.FindStatementsFolder(context.Background(), srv.URL+"/PDA/")
	assert.False(t, ok)
	assert.Empty(t, got)

	// unreachable page degrades to not found
	got, ok = nav.FindStatementsFolder(context.Background(), srv.URL+"/nowhere/")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestNavigator_LatestQuarters(t *testing.T) {
	srv := newPortal(t, map[string]string{
		"/dc/":      listing("2022/", "2023/", "2024/", "README.txt"),
		"/dc/2024/": listing("1T2024.zip"),
		"/dc/2023/": listing("1T2023.zip", "2T2023.zip", "3T2023.zip", "4T2023.zip"),
		"/dc/2022/": listing("4T2022.zip"),
	})
	nav := NewNavigator(testClient(nil))

	got := nav.LatestQuarters(context.Background(), srv.URL+"/dc/", 3)
	require.Len(t, got, 3)

	assert.Equal(t, 2024, got[0].Year)
	assert.Equal(t, "1T", got[0].Quarter)
	assert.Equal(t, "1T2024.zip", got[0].Name)
	assert.Equal(t, srv.URL+"/dc/2024/1T2024.zip", got[0].URL)

	assert.Equal(t, 2023, got[1].Year)
	assert.Equal(t, "4T", got[1].Quarter)
	assert.Equal(t, 2023, got[2].Year)
	assert.Equal(t, "3T", got[2].Quarter)
}

func TestNavigator_LatestQuarters_FewerAvailable(t *testing.T) {
	srv := newPortal(t, map[string]string{
		"/dc/":      listing("2024/"),
		"/dc/2024/": listing("1t2024.zip", "leiame.pdf"),
	})
	nav := NewNavigator(testClient(nil))

	got := nav.LatestQuarters(context.Background(), srv.URL+"/dc", 0)
	require.Len(t, got, 1)
	assert.Equal(t, "1T", got[0].Quarter)
}

func TestNavigator_LatestQuarters_Unreachable(t *testing.T) {
	srv := newPortal(t, map[string]string{})
	nav := NewNavigator(testClient(nil))

	assert.Empty(t, nav.LatestQuarters(context.Background(), srv.URL+"/dc/", 3))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "demonstracoes_contabeis", fold("Demonstrações_Contábeis"))
}
