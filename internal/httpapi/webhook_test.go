package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"booking-inbox/internal/integrations/paramstore"
)

const batchPayload = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "PNID-1"},
        "contacts": [{"wa_id": "34600111222", "profile": {"name": "Ana"}}],
        "messages": [
          {"from": "34600111222", "id": "wamid.A", "timestamp": "1741946400", "type": "text", "text": {"body": "Hola"}},
          {"from": "34600111222", "id": "wamid.B", "timestamp": "1741946401", "type": "text", "text": {"body": "?"}}
        ]
      }
    }]
  }, {
    "changes": [{
      "value": {
        "messages": [{"from": "34600333444", "id": "wamid.C", "timestamp": "1741946402", "type": "text", "text": {"body": "Buenas"}}]
      }
    }]
  }]
}`

func TestVerify(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{name: "hub params", query: "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=123", status: http.StatusOK, body: "123"},
		{name: "bare params", query: "mode=subscribe&verify_token=verify-me&challenge=abc", status: http.StatusOK, body: "abc"},
		{name: "wrong token", query: "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=123", status: http.StatusForbidden},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=123", status: http.StatusForbidden},
		{name: "missing token", query: "hub.mode=subscribe&hub.challenge=123", status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodGet, "/webhooks/whatsapp?"+tc.query, "", false)
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestVerify_TokenNotConfigured(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.VerifyToken = paramstore.Static("") })
	rec := f.do(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", "", false)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook_AcknowledgesThenProcessesBatch(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/webhooks/whatsapp", batchPayload, false)
	require.Equal(t, http.StatusOK, rec.Code)

	f.srv.Wait()
	require.Equal(t, []string{"wamid.A", "wamid.B", "wamid.C"}, f.conv.inboundIDs())
	require.Equal(t, "Ana", f.conv.inbound[0].SenderDisplayName)
	require.Equal(t, "PNID-1", f.conv.inbound[0].ChannelHandle)
}

func TestWebhook_FailureDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	f.conv.inboundErr["wamid.A"] = errors.New("store down")

	rec := f.do(http.MethodPost, "/webhooks/whatsapp", batchPayload, false)
	require.Equal(t, http.StatusOK, rec.Code)
	f.srv.Wait()
	require.Equal(t, []string{"wamid.A", "wamid.B", "wamid.C"}, f.conv.inboundIDs())
}

func TestWebhook_MalformedAndEmptyPayloadsStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`not-json`, `{}`, `{"entry":[{"changes":[{"value":{"statuses":[{"id":"x"}]}}]}]}`} {
		rec := f.do(http.MethodPost, "/webhooks/whatsapp", body, false)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	f.srv.Wait()
	require.Empty(t, f.conv.inboundIDs())
}
