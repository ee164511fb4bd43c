// internal/browser/session_test.go
package browser_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
)

const formPage = `<!doctype html>
<html><head><title>Checkout</title></head>
<body>
  <nav><a href="/home">Home</a><a href="https://example.org/help">Help</a></nav>
  <h1>Checkout</h1>
  <p>Fill in the form below to complete the purchase of your order.</p>
  <form id="checkout" action="/done" method="post">
    <label for="email">Email</label>
    <input id="email" name="email" placeholder="you@example.com">
    <select id="country" name="country">
      <option value="de">Germany</option>
      <option value="fr">France</option>
    </select>
    <button type="button" id="pay" aria-label="Pay now" onclick="document.getElementById('status').innerText='paid:' + document.getElementById('email').value + ':' + document.getElementById('country').value">Pay</button>
  </form>
  <div id="status">pending</div>
  <div style="height: 3000px"></div>
</body></html>`

func TestSessionInteractions(t *testing.T) {
	fixture := setupBrowserManager(t)
	server := createTestServer(t, htmlHandler(formPage))
	session := fixture.newSession(t, "interactions")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, session.Navigate(ctx, server.URL))

	title, err := session.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Checkout", title)

	current, err := session.CurrentURL(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(current, server.URL))

	email := schemas.Selector{Type: schemas.SelectorID, Value: "email"}
	require.NoError(t, session.Type(ctx, email, "ada@example.com", schemas.TypeOptions{Clear: true}))
	require.NoError(t, session.Select(ctx, schemas.Selector{Type: schemas.SelectorCSS, Value: "#country"}, "France"))
	require.NoError(t, session.Click(ctx, schemas.Selector{Type: schemas.SelectorAria, Value: "Pay now"}))

	status, err := session.ExtractText(ctx, schemas.Selector{Type: schemas.SelectorCSS, Value: "#status"})
	require.NoError(t, err)
	assert.Equal(t, "paid:ada@example.com:fr", status)

	text, err := session.ExtractText(ctx, schemas.Selector{Type: schemas.SelectorText, Value: "Fill in the form"})
	require.NoError(t, err)
	assert.Contains(t, text, "complete the purchase")

	require.NoError(t, session.Scroll(ctx, "down", 400))
	require.NoError(t, session.PressKey(ctx, "Control+A"))
	require.NoError(t, session.HoverAt(ctx, 10, 10))

	shot, err := session.Screenshot(ctx)
	require.NoError(t, err)
	png, err := base64.StdEncoding.DecodeString(shot)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}

func TestSessionElementNotFound(t *testing.T) {
	fixture := setupBrowserManager(t)
	server := createTestServer(t, htmlHandler(formPage))
	session := fixture.newSession(t, "missing")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, session.Navigate(ctx, server.URL))

	start := time.Now()
	err := session.Click(ctx, schemas.Selector{Type: schemas.SelectorCSS, Value: "#does-not-exist"})
	assert.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), fixture.Config.ElementWait)
}

func TestSessionAnalyzePage(t *testing.T) {
	fixture := setupBrowserManager(t)
	server := createTestServer(t, htmlHandler(formPage))
	session := fixture.newSession(t, "analysis")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, session.Navigate(ctx, server.URL))

	analysis, err := session.AnalyzePage(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Checkout", analysis.Title)
	require.Len(t, analysis.Forms, 1)
	assert.Equal(t, "#checkout", analysis.Forms[0].Selector)

	var emailField *schemas.PageElement
	for i := range analysis.Elements {
		if analysis.Elements[i].Selector == "#email" {
			emailField = &analysis.Elements[i]
		}
	}
	require.NotNil(t, emailField)
	assert.Equal(t, "input", emailField.Type)
	assert.Equal(t, "Email", emailField.Label)
	assert.True(t, emailField.IsVisible)

	require.Len(t, analysis.Navigation, 2)
	assert.False(t, analysis.Navigation[0].IsExternal)
	assert.True(t, analysis.Navigation[1].IsExternal)

	require.NotEmpty(t, analysis.Content.Headings)
	assert.Equal(t, 1, analysis.Content.Headings[0].Level)
}

func TestSessionNavigationFailure(t *testing.T) {
	fixture := setupBrowserManager(t)
	session := fixture.newSession(t, "nav-failure")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := session.Navigate(ctx, "http://127.0.0.1:1/unreachable")
	assert.ErrorIs(t, err, browser.ErrNavigation)
}

func TestManagerLifecycle(t *testing.T) {
	fixture := setupBrowserManager(t)
	session := fixture.newSession(t, "lifecycle")

	got, err := fixture.Manager.Session("lifecycle")
	require.NoError(t, err)
	assert.Equal(t, session.ID(), got.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, fixture.Manager.CloseSession(ctx, "lifecycle"))
	require.NoError(t, session.Close(ctx), "closing twice is a no-op")

	_, err = fixture.Manager.Session("lifecycle")
	assert.ErrorIs(t, err, browser.ErrSessionNotFound)

	_, err = session.Title(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}
