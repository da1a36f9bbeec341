// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/mailroomhq/mailroom-backend/internal/model"
)

// Personalize substitutes {{variable}} placeholders in rendered content with
// a contact's data. Built-ins are email, firstName and lastName; everything
// else comes from the contact's properties. Unmatched placeholders are
// cleared rather than leaked to the recipient.
func Personalize(content string, contact *model.Contact) string {
	vars := map[string]string{
		"email":     contact.Email,
		"firstName": contact.FirstName,
		"lastName":  contact.LastName,
	}
	for k, v := range contact.Properties {
		vars[k] = v
	}

	result := content
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return clearUnmatched(result)
}

// clearUnmatched removes placeholders no variable matched.
func clearUnmatched(s string) string {
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return s
		}
		s = s[:start] + s[start+end+2:]
	}
}
