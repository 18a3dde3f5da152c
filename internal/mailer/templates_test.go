package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/cardmail/internal/domain"
)

func TestTemplates_WelcomeWithCompany(t *testing.T) {
	tpls := NewTemplates()
	out, err := tpls.Render(domain.KindWelcome, map[string]interface{}{
		"name":      "Ada",
		"company":   "Acme & Sons",
		"from_name": "Card Desk",
		"year":      2026,
	})
	require.NoError(t, err)

	assert.Equal(t, "Thank you for connecting, Ada", out.Subject)
	assert.Contains(t, out.HTML, "Welcome to Our Network!")
	assert.Contains(t, out.HTML, "Hello Ada!")
	assert.Contains(t, out.HTML, "Acme &amp; Sons")
	assert.Contains(t, out.Text, "Acme & Sons")
}

func TestTemplates_CompanyLineOmitted(t *testing.T) {
	tpls := NewTemplates()
	out, err := tpls.Render(domain.KindFollowUp, map[string]interface{}{
		"name":      "Ada",
		"from_name": "Card Desk",
	})
	require.NoError(t, err)

	assert.Equal(t, "Quick follow-up from our team, Ada", out.Subject)
	assert.Contains(t, out.HTML, "Just Checking In!")
	assert.NotContains(t, out.HTML, "going well at")
}

func TestTemplates_PropertyAvailability(t *testing.T) {
	tpls := NewTemplates()
	out, err := tpls.Render(domain.KindPropertyAvailability, map[string]interface{}{
		"name":      "Ada Lovelace",
		"company":   "Acme",
		"from_name": "Card Desk",
		"reply_to":  "agent@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "Exclusive Property Opportunities for Ada Lovelace", out.Subject)
	assert.Contains(t, out.HTML, "Handpicked for Ada Lovelace at Acme")
	assert.Contains(t, out.HTML, "mailto:agent@example.com?subject=Property%20Inquiry%20from%20Ada+Lovelace")
	assert.Contains(t, out.HTML, "Property Specialist")
}

func TestTemplates_UnknownKind(t *testing.T) {
	_, err := NewTemplates().Render(domain.EmailKind("newsletter"), nil)
	assert.Error(t, err)
}
