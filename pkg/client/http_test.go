package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(srv.URL, WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := c.Get(context.Background(), "/slow", nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var uerr *url.Error
	require.True(t, errors.As(err, &uerr))
	assert.True(t, uerr.Timeout())
}
