package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/pkg/config"
)

func TestClientSendPostsSendGridPayload(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := New(config.MailConfig{
		Enabled:     true,
		BaseURL:     srv.URL,
		APIKey:      "key",
		SenderEmail: "no-reply@lms.local",
		SenderName:  "LMS",
		Timeout:     time.Second,
	}, nil)

	err := client.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key", auth)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "ada@example.com", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "no-reply@lms.local", got.From.Email)
	assert.Equal(t, "text/html", got.Content[0].Type)
}

func TestClientSendReportsProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer srv.Close()

	client := New(config.MailConfig{Enabled: true, BaseURL: srv.URL, Timeout: time.Second}, nil)
	err := client.Send(context.Background(), Message{To: "ada@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
}

func TestClientDisabledSkipsDelivery(t *testing.T) {
	client := New(config.MailConfig{Enabled: false, BaseURL: "http://127.0.0.1:1"}, nil)
	assert.NoError(t, client.Send(context.Background(), Message{To: "ada@example.com"}))
	assert.Error(t, client.Send(context.Background(), Message{}))
}

func TestRenderTemplates(t *testing.T) {
	subject, body, err := Render(KindCourseRejected, map[string]string{"Course": "Go & You", "Link": "https://x"})
	require.NoError(t, err)
	assert.Equal(t, `Your course "Go & You" needs changes`, subject)
	assert.Contains(t, body, "Go &amp; You")
	assert.NotContains(t, body, "Reviewer note")

	_, body, err = Render(KindCourseRejected, map[string]string{"Course": "Go", "Note": "<b>more quizzes</b>"})
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;b&gt;more quizzes&lt;/b&gt;")

	_, _, err = Render(Kind("unknown"), nil)
	assert.Error(t, err)
}
