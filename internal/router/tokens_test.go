package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{
			name: "empty body",
			body: map[string]interface{}{},
			want: 0,
		},
		{
			name: "string content rounds up",
			body: map[string]interface{}{
				"messages": []interface{}{
					map[string]interface{}{"role": "user", "content": "hello"},
				},
			},
			want: 2, // 5 chars at 4 per token
		},
		{
			name: "system plus text blocks",
			body: map[string]interface{}{
				"system": "you are terse",
				"messages": []interface{}{
					map[string]interface{}{
						"role": "user",
						"content": []interface{}{
							map[string]interface{}{"type": "text", "text": "12345678"},
						},
					},
				},
			},
			want: (13 + 8 + 3) / 4,
		},
		{
			name: "non-text blocks count by JSON size",
			body: map[string]interface{}{
				"messages": []interface{}{
					map[string]interface{}{
						"role": "user",
						"content": []interface{}{
							map[string]interface{}{"type": "image", "source": "abc"},
						},
					},
				},
			},
			want: (len(`{"source":"abc","type":"image"}`) + 3) / 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.body))
		})
	}
}
