package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/uigen/internal/auth"
	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/model"
	"github.com/knoguchi/uigen/internal/registry"
	"github.com/knoguchi/uigen/internal/results"
	"github.com/knoguchi/uigen/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

type generateCall struct {
	prompt string
	opts   llm.GenerateOptions
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	text  string
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) ([]llm.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generateCall{prompt: prompt, opts: opts})
	if g.err != nil {
		return nil, g.err
	}
	return []llm.Completion{{Text: g.text}}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, modelID string) (*registry.Artifact, error) {
	return &registry.Artifact{ModelID: modelID}, nil
}

type testEnv struct {
	srv    *httptest.Server
	gen    *fakeGenerator
	loader *model.Loader
}

// envOptions replaces parts of the default test wiring.
type envOptions struct {
	fetcher         model.Fetcher
	generator       llm.Generator
	generateTimeout time.Duration
}

func newTestEnv(t *testing.T, gen *fakeGenerator) *testEnv {
	return newTestEnvWith(t, gen, envOptions{})
}

func newTestEnvWith(t *testing.T, gen *fakeGenerator, opts envOptions) *testEnv {
	t.Helper()

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = fakeFetcher{}
	}
	var generator llm.Generator = gen
	if opts.generator != nil {
		generator = opts.generator
	}

	loader := model.NewLoader(fetcher, func(string) llm.Generator { return generator }, nil)
	store := results.NewStore(time.Minute)
	t.Cleanup(store.Close)

	svc := service.NewCodegenService(loader, service.WithResultStore(store))

	s, err := NewHTTPServer(HTTPServerConfig{
		Generator:       svc,
		ModelStatus:     loader,
		Store:           store,
		Links:           auth.NewJWTManager(auth.DefaultJWTConfig("test-secret", time.Minute)),
		GenerateTimeout: opts.generateTimeout,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, gen: gen, loader: loader}
}

func (e *testEnv) post(t *testing.T, form url.Values) (*http.Response, *html.Node) {
	t.Helper()

	resp, err := e.srv.Client().PostForm(e.srv.URL+"/generate", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	require.NoError(t, err)
	return resp, doc
}

// find returns the first element for which match is true.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attr(n, "id") == id }
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func TestIndex_SettingsPanel(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})

	resp, err := env.srv.Client().Get(env.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	doc, err := html.Parse(resp.Body)
	require.NoError(t, err)

	tokens := find(doc, byID("max_tokens"))
	require.NotNil(t, tokens)
	assert.Equal(t, "range", attr(tokens, "type"))
	assert.Equal(t, "50", attr(tokens, "min"))
	assert.Equal(t, "500", attr(tokens, "max"))
	assert.Equal(t, "300", attr(tokens, "value"))

	temp := find(doc, byID("temperature"))
	require.NotNil(t, temp)
	assert.Equal(t, "0.1", attr(temp, "min"))
	assert.Equal(t, "1", attr(temp, "max"))
	assert.Equal(t, "0.7", attr(temp, "value"))

	framework := find(doc, byID("framework"))
	require.NotNil(t, framework)
	assert.Equal(t, "ReactFlutter", strings.Join(strings.Fields(text(framework)), ""))

	assert.Nil(t, find(doc, byID("result")))
	assert.Equal(t, 0, env.loader.Fetches(), "the model loads on first generation")
}

func TestGenerate_EmptyPromptShowsWarning(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{text: "x"})

	for _, prompt := range []string{"", "   ", "\n\t"} {
		resp, doc := env.post(t, url.Values{"prompt": {prompt}, "framework": {"Flutter"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		warning := find(doc, byClass("warning"))
		require.NotNil(t, warning, "prompt %q", prompt)
		assert.Equal(t, "Please enter a prompt first!", text(warning))
		assert.Nil(t, find(doc, byID("result")))

		// The sidebar keeps the submitted choice.
		selected := find(doc, func(n *html.Node) bool {
			return n.Data == "option" && hasAttr(n, "selected")
		})
		require.NotNil(t, selected)
		assert.Equal(t, "Flutter", attr(selected, "value"))
	}

	assert.Equal(t, 0, env.gen.callCount())
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func TestGenerate_LoginScreenScenario(t *testing.T) {
	code := "Build a login screen\nexport default function Login() { return <form/>; }"
	env := newTestEnv(t, &fakeGenerator{text: code})

	resp, doc := env.post(t, url.Values{
		"prompt":      {"Build a login screen"},
		"framework":   {"React"},
		"max_tokens":  {"300"},
		"temperature": {"0.7"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, 1, env.gen.callCount())
	call := env.gen.calls[0]
	assert.Equal(t, "Build a login screen", call.prompt)
	assert.Equal(t, llm.GenerateOptions{MaxNewTokens: 300, Temperature: 0.7, DoSample: true}, call.opts)

	codeView := find(doc, byID("panel-code"))
	require.NotNil(t, codeView)
	assert.Equal(t, "javascript", attr(codeView, "data-language"))
	assert.Contains(t, text(codeView), "export default function Login()")

	link := find(doc, byClass("download"))
	require.NotNil(t, link)
	assert.Equal(t, "ui_code.js", attr(link, "download"))
	assert.Equal(t, "Download React Code", text(link))

	dl, err := env.srv.Client().Get(env.srv.URL + attr(link, "href"))
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)

	assert.Equal(t, "text/plain; charset=utf-8", dl.Header.Get("Content-Type"))
	disposition, params, err := mime.ParseMediaType(dl.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "ui_code.js", params["filename"])

	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, code, string(body))
}

func TestGenerate_Flutter(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{text: "class Login extends StatelessWidget {}"})

	_, doc := env.post(t, url.Values{
		"prompt":      {"A login page"},
		"framework":   {"Flutter"},
		"max_tokens":  {"120"},
		"temperature": {"0.3"},
	})

	codeView := find(doc, byID("panel-code"))
	require.NotNil(t, codeView)
	assert.Equal(t, "dart", attr(codeView, "data-language"))

	link := find(doc, byClass("download"))
	require.NotNil(t, link)
	assert.Equal(t, "ui_code.dart", attr(link, "download"))
	assert.Equal(t, "Download Flutter Code", text(link))

	assert.Equal(t, 120, env.gen.calls[0].opts.MaxNewTokens)
	assert.Equal(t, 0.3, env.gen.calls[0].opts.Temperature)
}

func TestGenerate_OutOfRangeSettingsAreClamped(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{text: "ok"})

	_, doc := env.post(t, url.Values{
		"prompt":      {"a sidebar"},
		"max_tokens":  {"100000"},
		"temperature": {"-3"},
	})

	require.Equal(t, 1, env.gen.callCount())
	assert.Equal(t, 500, env.gen.calls[0].opts.MaxNewTokens)
	assert.Equal(t, 0.1, env.gen.calls[0].opts.Temperature)

	assert.Equal(t, "500", attr(find(doc, byID("max_tokens")), "value"))
	assert.Equal(t, "0.1", attr(find(doc, byID("temperature")), "value"))
}

func TestGenerate_AccessDenied(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{err: &llm.APIError{
		StatusCode: http.StatusForbidden,
		Message:    "gated model",
		Kind:       llm.ErrAccessDenied,
	}})

	resp, doc := env.post(t, url.Values{"prompt": {"a navbar"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	panel := find(doc, byClass("error"))
	require.NotNil(t, panel)
	assert.Contains(t, text(panel), "Access to the model was denied")
	assert.Nil(t, find(doc, byID("result")))
	assert.Equal(t, 1, env.gen.callCount())
}

func TestGenerate_RegistryDeniesAccess(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Error-Message", "Access to model bigcode/starcoder is restricted.")
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(hub.Close)

	fetcher := registry.NewHubFetcher(hub.URL, "hf_nogrant", t.TempDir(), nil)
	env := newTestEnvWith(t, &fakeGenerator{text: "unused"}, envOptions{fetcher: fetcher})

	resp, doc := env.post(t, url.Values{"prompt": {"a navbar"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	panel := find(doc, byClass("error"))
	require.NotNil(t, panel)
	assert.Contains(t, text(panel), "Access to the model was denied")
	assert.Nil(t, find(doc, byID("result")))
	assert.Zero(t, env.gen.callCount())
	assert.False(t, env.loader.Loaded())
}

// stallingGenerator never answers before its context ends.
type stallingGenerator struct{}

func (stallingGenerator) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) ([]llm.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerate_TimesOut(t *testing.T) {
	env := newTestEnvWith(t, &fakeGenerator{}, envOptions{
		generator:       stallingGenerator{},
		generateTimeout: 50 * time.Millisecond,
	})

	resp, doc := env.post(t, url.Values{"prompt": {"a sidebar"}})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	panel := find(doc, byClass("error"))
	require.NotNil(t, panel)
	assert.Contains(t, text(panel), "Generation timed out")
	assert.Nil(t, find(doc, byID("result")))
}

func TestNewHTTPServer_WriteTimeoutOutlastsGeneration(t *testing.T) {
	s, err := NewHTTPServer(HTTPServerConfig{GenerateTimeout: 7 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 7*time.Minute, s.generateTimeout)
	assert.Greater(t, s.server.WriteTimeout, s.generateTimeout)

	s, err = NewHTTPServer(HTTPServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerateTimeout, s.generateTimeout)
	assert.Greater(t, s.server.WriteTimeout, s.generateTimeout)
}

// heldFetcher blocks the model load until release is closed.
type heldFetcher struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (f *heldFetcher) Fetch(ctx context.Context, modelID string) (*registry.Artifact, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.release:
		return &registry.Artifact{ModelID: modelID}, nil
	}
}

func TestGenerate_DisconnectDuringLoadKeepsOtherRequests(t *testing.T) {
	fetcher := &heldFetcher{started: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnvWith(t, &fakeGenerator{text: "export default function Card() {}"}, envOptions{fetcher: fetcher})
	client := env.srv.Client()

	// First client starts the load, then goes away.
	ctxA, cancelA := context.WithCancel(context.Background())
	reqA, err := http.NewRequestWithContext(ctxA, http.MethodPost, env.srv.URL+"/generate",
		strings.NewReader(url.Values{"prompt": {"a card"}}.Encode()))
	require.NoError(t, err)
	reqA.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		if resp, err := client.Do(reqA); err == nil {
			resp.Body.Close()
		}
	}()
	<-fetcher.started

	// Second client joins the same load and stays connected.
	type answer struct {
		status int
		doc    *html.Node
		err    error
	}
	answerB := make(chan answer, 1)
	go func() {
		resp, err := client.PostForm(env.srv.URL+"/generate", url.Values{"prompt": {"a card"}})
		if err != nil {
			answerB <- answer{err: err}
			return
		}
		defer resp.Body.Close()
		doc, err := html.Parse(resp.Body)
		answerB <- answer{status: resp.StatusCode, doc: doc, err: err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelA()
	<-doneA
	close(fetcher.release)

	select {
	case b := <-answerB:
		require.NoError(t, b.err)
		assert.Equal(t, http.StatusOK, b.status)
		require.NotNil(t, find(b.doc, byID("result")))
		assert.Nil(t, find(b.doc, byClass("error")))
	case <-time.After(5 * time.Second):
		t.Fatal("connected client got no answer")
	}
	assert.True(t, env.loader.Loaded())
}

func TestGenerate_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{err: &llm.APIError{StatusCode: 500, Message: "kaboom"}})

	resp, doc := env.post(t, url.Values{"prompt": {"a footer"}})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	panel := find(doc, byClass("error"))
	require.NotNil(t, panel)
	assert.Contains(t, text(panel), "kaboom")
}

func TestGenerate_EscapesPrompt(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{text: "ok"})

	resp, err := env.srv.Client().PostForm(env.srv.URL+"/generate", url.Values{
		"prompt": {"</textarea><script>alert(1)</script>"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "<script>alert(1)</script>")
}

func TestDownload_InvalidAndUnknown(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	client := env.srv.Client()

	resp, err := client.Get(env.srv.URL + "/download/garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A correctly signed link whose result is no longer stored.
	links := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret", time.Minute))
	token, err := links.GenerateToken(uuid.New(), "ui_code.js")
	require.NoError(t, err)

	resp, err = client.Get(env.srv.URL + "/download/" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{text: "ok"})
	client := env.srv.Client()

	readiness := func() map[string]any {
		resp, err := client.Get(env.srv.URL + "/readyz")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	resp, err := client.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, false, readiness()["model_loaded"])

	env.post(t, url.Values{"prompt": {"a card"}})
	assert.Equal(t, true, readiness()["model_loaded"])
}
