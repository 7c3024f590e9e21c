package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"agentpass/internal/platform/kv"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/requestcontext"
)

const (
	senderPassport    = "ap_aaaaaaaaaaaa"
	recipientPassport = "ap_bbbbbbbbbbbb"
)

type stubPassports map[string]string

func (p stubPassports) Lookup(_ context.Context, id string) (string, string, bool, error) {
	owner, ok := p[id]
	return owner, "", ok, nil
}

type failingPassports struct{}

func (failingPassports) Lookup(context.Context, string) (string, string, bool, error) {
	return "", "", false, errors.New("registry down")
}

type ServiceSuite struct {
	suite.Suite
	store   *kv.Memory
	metrics *Metrics
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = kv.NewMemory()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.service = New(s.store,
		stubPassports{senderPassport: "alice@x.com", recipientPassport: "bob@x.com"},
		WithMetrics(s.metrics),
	)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))
}

func (s *ServiceSuite) send(subject, body string) *Message {
	msg, err := s.service.Send(s.ctx, "alice@x.com", SendInput{
		From: senderPassport, To: recipientPassport, Subject: subject, Body: body,
	})
	s.Require().NoError(err)
	return msg
}

func (s *ServiceSuite) TestSend() {
	s.Run("delivers to the recipient inbox in order", func() {
		first := s.send("hello", "first")
		s.send("again", "second")
		s.NotEmpty(first.ID)
		s.Equal(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC), first.CreatedAt)

		inbox, err := s.service.Inbox(s.ctx, "bob@x.com", recipientPassport)
		s.Require().NoError(err)
		s.Require().Len(inbox, 2)
		s.Equal("first", inbox[0].Body)
		s.Equal("second", inbox[1].Body)
		s.Equal(senderPassport, inbox[0].From)
		s.Equal(2.0, testutil.ToFloat64(s.metrics.MessagesSent))

		own, err := s.service.Inbox(s.ctx, "alice@x.com", senderPassport)
		s.Require().NoError(err)
		s.Empty(own)
	})

	s.Run("sender must belong to the caller", func() {
		_, err := s.service.Send(s.ctx, "bob@x.com", SendInput{From: senderPassport, To: recipientPassport, Body: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown recipient is not found", func() {
		_, err := s.service.Send(s.ctx, "alice@x.com", SendInput{From: senderPassport, To: "ap_zzzzzzzzzzzz", Body: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("validates the message", func() {
		cases := []SendInput{
			{To: recipientPassport, Body: "x"},
			{From: senderPassport, To: recipientPassport, Body: "  "},
			{From: senderPassport, To: recipientPassport, Body: "x", Subject: strings.Repeat("s", MaxSubjectLength+1)},
			{From: senderPassport, To: recipientPassport, Body: strings.Repeat("b", MaxBodyLength+1)},
		}
		for _, in := range cases {
			_, err := s.service.Send(s.ctx, "alice@x.com", in)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "%+v", in)
		}
	})

	s.Run("registry failure is internal", func() {
		svc := New(kv.NewMemory(), failingPassports{})
		_, err := svc.Send(s.ctx, "alice@x.com", SendInput{From: senderPassport, To: recipientPassport, Body: "x"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestInboxIsPrivate() {
	s.send("", "secret")
	_, err := s.service.Inbox(s.ctx, "alice@x.com", recipientPassport)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Inbox(s.ctx, "alice@x.com", "ap_zzzzzzzzzzzz")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestPurgePassport() {
	s.send("", "one")
	s.send("", "two")

	s.Require().NoError(s.service.PurgePassport(s.ctx, recipientPassport))
	keys, err := s.store.Keys(s.ctx, "messaging:")
	s.Require().NoError(err)
	s.Empty(keys)

	s.NoError(s.service.PurgePassport(s.ctx, recipientPassport))
}
