package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string `json:"name" validate:"required"`
	Channel string `json:"channel" validate:"oneof=sms email both"`
	Limit   int    `json:"limit" validate:"min=1"`
}

func TestValidator_Struct(t *testing.T) {
	v := Default()

	t.Run("valid struct", func(t *testing.T) {
		require.NoError(t, v.Struct(sample{Name: "x", Channel: "sms", Limit: 1}))
	})

	t.Run("errors are keyed by json name", func(t *testing.T) {
		err := v.Struct(sample{Channel: "fax"})
		require.Error(t, err)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Errors, "name")
		assert.Contains(t, ve.Errors, "channel")
		assert.Contains(t, ve.Errors, "limit")
		assert.Contains(t, err.Error(), "channel: ")
	})
}
