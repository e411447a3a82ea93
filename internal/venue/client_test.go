package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/crypto"
	"github.com/stuartoffabean/sentinel/internal/domain"
)

func TestPlaceOrderSignsRequest(t *testing.T) {
	var gotKey, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Sidecar-Key")
		gotSig = r.Header.Get("X-Sidecar-Signature")
		w.Write([]byte(`{"filled":true,"order_id":"o-1","filled_price":0.41,"filled_size":100}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		AssetID: "a", Side: domain.OrderSideSell, Price: 0.42, Size: 100, SlippagePct: 3,
	})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, "k", gotKey)
	assert.NotEmpty(t, gotSig)
}

func TestRateLimitMapsToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{AssetID: "a"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = c.CashBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancelAllSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`{"success":false,"error_msg":"venue maintenance"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	err := c.CancelAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue maintenance")
}

func TestOrderbookRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book/asset-9", r.URL.Path)
		w.Write([]byte(`{"best_bid":0.44,"best_ask":0.47,"bid_size":500,"ask_size":120}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	book, err := c.Orderbook(context.Background(), "asset-9")
	require.NoError(t, err)
	assert.Equal(t, "asset-9", book.AssetID)
	assert.InDelta(t, 0.44, book.BestBid, 1e-9)
	assert.InDelta(t, 0.47, book.BestAsk, 1e-9)
}

func TestHandleMessageParsesTick(t *testing.T) {
	w := NewWSClient("ws://unused")

	var got domain.Tick
	w.OnTick(func(t domain.Tick) { got = t })

	w.handleMessage([]byte(`{"type":"price","asset_id":"a","best_bid":"0.41","best_ask":"0.43","price":"0.42","ts_ms":1700000000000}`))
	assert.Equal(t, "a", got.AssetID)
	assert.InDelta(t, 0.41, got.Bid, 1e-9)
	assert.InDelta(t, 0.43, got.Ask, 1e-9)
	assert.InDelta(t, 0.42, got.Price, 1e-9)
	assert.Equal(t, int64(1700000000000), got.At.UnixMilli())

	// Non-price and malformed messages are dropped without dispatch.
	got = domain.Tick{}
	w.handleMessage([]byte(`{"type":"heartbeat"}`))
	w.handleMessage([]byte(`not json`))
	assert.Empty(t, got.AssetID)
}
