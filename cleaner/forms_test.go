package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/tabhost/models"
)

const formPage = `<html><body>
<form id="login" action="/session" method="post">
  <label for="user">Inspector</label><input id="user" name="username" value="ayse" required>
  <input type="password" name="password" value="hunter2">
  <input type="submit" value="Go">
  <input type="hidden" name="csrf" value="tok">
</form>
<form action="/measure">
  <select name="phase"><option value="L1">L1</option><option value="L2" selected>L2</option></select>
  <label><input type="checkbox" name="ok" value="yes"> Passed</label>
  <textarea name="notes">loose cover</textarea>
  <input placeholder="unnamed">
</form>
<input name="remark" form="login" value="late">
</body></html>`

func TestExtractForms(t *testing.T) {
	forms, err := ExtractForms(formPage)
	require.NoError(t, err)
	require.Len(t, forms, 2)

	login := forms[0]
	assert.Equal(t, "login", login.ID)
	assert.Equal(t, "/session", login.Action)
	assert.Equal(t, "POST", login.Method)
	assert.Equal(t, []models.FormField{
		{Name: "username", Type: "text", Value: "ayse", Label: "Inspector", Required: true},
		{Name: "password", Type: "password", Value: maskedValue},
		{Name: "csrf", Type: "hidden", Value: "tok"},
		{Name: "remark", Type: "text", Value: "late"},
	}, login.Fields)

	measure := forms[1]
	assert.Equal(t, "GET", measure.Method)
	require.Len(t, measure.Fields, 3)
	assert.Equal(t, models.FormField{Name: "phase", Type: "select", Value: "L2", Options: []string{"L1", "L2"}}, measure.Fields[0])
	assert.Equal(t, models.FormField{Name: "ok", Type: "checkbox", Label: "Passed"}, measure.Fields[1])
	assert.Equal(t, models.FormField{Name: "notes", Type: "textarea", Value: "loose cover"}, measure.Fields[2])
}

func TestExtractFormsNone(t *testing.T) {
	forms, err := ExtractForms("<p>no forms</p>")
	require.NoError(t, err)
	assert.Empty(t, forms)
}
