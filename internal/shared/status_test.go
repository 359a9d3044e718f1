package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"completed":          "Completed",
		"CANCELLED":          "Cancelled",
		"partially_received": "Partially Received",
		" partially  paid ":  "Partially Paid",
		"":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeStatus(in), in)
	}
}
