package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLeadRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"email only", `{"page":{"url":"https://example.com/italy"},"lead":{"formName":"italy","contact":{"email":"a@b.co"}}}`, false},
		{"phone only", `{"page":{"url":"https://example.com/"},"lead":{"formName":"italy","contact":{"phone":"0501234567"}}}`, false},
		{"no contact channel", `{"page":{"url":"https://example.com/"},"lead":{"formName":"italy","contact":{"name":"Sara"}}}`, true},
		{"missing page", `{"lead":{"formName":"italy","contact":{"email":"a@b.co"}}}`, true},
		{"empty form name", `{"page":{"url":"x"},"lead":{"formName":"","contact":{"email":"a@b.co"}}}`, true},
		{"lowercase currency", `{"page":{"url":"x"},"lead":{"formName":"f","contact":{"email":"a@b.co"},"currency":"sar"}}`, true},
		{"negative value", `{"page":{"url":"x"},"lead":{"formName":"f","contact":{"email":"a@b.co"},"declaredValue":-1}}`, true},
		{"not json", `{"page":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeadRequest([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
