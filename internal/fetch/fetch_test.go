package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/workflow"
)

type fakeMail struct {
	initErr  error
	fetchErr error
	messages []Message
}

func (f *fakeMail) Initialize(context.Context) error { return f.initErr }

func (f *fakeMail) FetchLatest(context.Context) ([]Message, error) {
	return f.messages, f.fetchErr
}

func (f *fakeMail) Send(context.Context, string, string, string) error { return nil }

func (f *fakeMail) SendWithAttachment(context.Context, string, string, string, string, []byte) error {
	return nil
}

func (f *fakeMail) MarkRead(context.Context, string) error { return nil }

func gmailWorkflow(account string) *workflow.Workflow {
	return &workflow.Workflow{
		Source:        workflow.SourceGmail,
		SourceAccount: account,
		Destination:   workflow.DestinationTelegram,
	}
}

func TestFetchGmailPicksNewest(t *testing.T) {
	mail := &fakeMail{messages: []Message{
		{ID: "a", From: "x@example.com", Subject: "newest"},
		{ID: "b", From: "y@example.com", Subject: "older"},
	}}
	f := NewFetcher(mail, nil)

	msg, err := f.Fetch(context.Background(), gmailWorkflow(workflow.AccountAny), "")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "a", msg.ID)
}

func TestFetchGmailAccountFilter(t *testing.T) {
	mail := &fakeMail{messages: []Message{
		{ID: "a", From: "other@example.com", To: "me@example.com"},
		{ID: "b", From: "alice@work.example", To: "me@example.com"},
	}}
	f := NewFetcher(mail, nil)

	msg, err := f.Fetch(context.Background(), gmailWorkflow("alice@work.example"), "")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "b", msg.ID)
}

func TestFetchGmailSubjectHint(t *testing.T) {
	mail := &fakeMail{messages: []Message{
		{ID: "a", Subject: "Weekly digest"},
		{ID: "b", Subject: "Your INVOICE is ready"},
	}}
	f := NewFetcher(mail, nil)

	msg, err := f.Fetch(context.Background(), gmailWorkflow(""), "invoice")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "b", msg.ID, "subject hint match is case-insensitive")
}

func TestFetchGmailHintMissFallsBackToFirst(t *testing.T) {
	mail := &fakeMail{messages: []Message{
		{ID: "a", Subject: "Weekly digest"},
	}}
	f := NewFetcher(mail, nil)

	msg, err := f.Fetch(context.Background(), gmailWorkflow(""), "no such subject")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "a", msg.ID)
}

func TestFetchGmailNoMatches(t *testing.T) {
	mail := &fakeMail{messages: []Message{
		{ID: "a", From: "other@example.com", To: "someone@example.com"},
	}}
	f := NewFetcher(mail, nil)

	msg, err := f.Fetch(context.Background(), gmailWorkflow("nobody@example.com"), "")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestFetchGmailInitFailure(t *testing.T) {
	mail := &fakeMail{initErr: errors.New("oauth expired")}
	f := NewFetcher(mail, nil)

	_, err := f.Fetch(context.Background(), gmailWorkflow(""), "")
	assert.Error(t, err)
}

func TestFetchTelegramUnimplemented(t *testing.T) {
	f := NewFetcher(nil, nil)
	wf := &workflow.Workflow{Source: workflow.SourceTelegram}

	msg, err := f.Fetch(context.Background(), wf, "")
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestFetchMapsSynthesizesFromHint(t *testing.T) {
	f := NewFetcher(nil, nil)
	f.now = func() time.Time { return time.UnixMilli(1700000000000) }
	wf := &workflow.Workflow{Source: workflow.SourceMaps}

	msg, err := f.Fetch(context.Background(), wf, "Geofence ENTER")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "geofence-1700000000000", msg.ID)
	assert.Equal(t, "Geofence", msg.From)
	assert.Equal(t, "Geofence ENTER", msg.Subject)
	assert.Equal(t, "Geofence ENTER", msg.Body)
}

func TestFetchMapsEmptyHint(t *testing.T) {
	f := NewFetcher(nil, nil)
	wf := &workflow.Workflow{Source: workflow.SourceMaps}

	msg, err := f.Fetch(context.Background(), wf, "   ")
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestFetchPhotosSynthesizes(t *testing.T) {
	f := NewFetcher(nil, nil)
	wf := &workflow.Workflow{Source: workflow.SourcePhotos}

	msg, err := f.Fetch(context.Background(), wf, "")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, strings.HasPrefix(msg.ID, "photos-"))
	assert.Equal(t, "Photos Trigger", msg.Subject)
	assert.Equal(t, "New photos detected", msg.Body)
}
