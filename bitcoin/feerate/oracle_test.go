// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package feerate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/chimera/bitcoin/feerate"
)

func TestOracle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status int
		body   string
		rate   int64
	}{
		{"fastest", http.StatusOK, `{"fastestFee":23,"halfHourFee":12,"hourFee":8,"economyFee":4,"minimumFee":1}`, 23},
		{"below floor", http.StatusOK, `{"fastestFee":2,"halfHourFee":1,"hourFee":1,"economyFee":1,"minimumFee":1}`, 5},
		{"server error", http.StatusInternalServerError, `oops`, 5},
		{"malformed", http.StatusOK, `{"fastestFee":`, 5},
		{"zero", http.StatusOK, `{"fastestFee":0}`, 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				_, _ = w.Write([]byte(test.body))
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			oracle := feerate.NewOracle(server.URL+"/", server.Client())
			require.Equal(t, test.rate, oracle.Rate(ctx))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		oracle := feerate.NewOracle(url, nil)
		require.EqualValues(t, 5, oracle.Rate(ctx))
	})
}
