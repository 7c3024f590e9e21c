package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"agentpass/internal/notify"
	"agentpass/internal/platform/kv"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/requestcontext"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []notify.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type RegistrySuite struct {
	suite.Suite
	kv        *kv.Memory
	registry  *Registry
	publisher *recordingPublisher
	metrics   *Metrics
	ctx       context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.kv = kv.NewMemory()
	s.publisher = &recordingPublisher{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.registry = New(NewKVStore(s.kv), WithPublisher(s.publisher), WithMetrics(s.metrics))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *RegistrySuite) create(name, owner string) *CreateResult {
	res, err := s.registry.CreateIdentity(s.ctx, CreateInput{Name: name, OwnerEmail: owner})
	s.Require().NoError(err)
	return res
}

func (s *RegistrySuite) TestCreateIdentity() {
	s.Run("issues an active unverified passport", func() {
		res := s.create("bot", "owner@x.com")

		s.True(domain.IsValidPassportID(res.Passport.ID()))
		s.Equal(StatusActive, res.Passport.Status)
		s.Equal(Trust{Level: TrustLevelUnverified, Score: 0}, res.Passport.Trust)
		s.Equal("owner@x.com", res.Passport.Owner.Email)
		s.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), res.Passport.CreatedAt)
		s.Equal(res.PublicKey, res.Passport.Identity.PublicKey)

		raw, err := base64.StdEncoding.DecodeString(res.PublicKey)
		s.Require().NoError(err)
		s.True(ed25519.PublicKey(raw).Equal(res.PrivateKey.Public()))
	})

	s.Run("returned key pair signs and verifies", func() {
		res := s.create("signer", "owner@x.com")
		sig := ed25519.Sign(res.PrivateKey, []byte("challenge"))

		ok, err := s.registry.VerifySignature(s.ctx, res.Passport.ID(), []byte("challenge"), sig)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.registry.VerifySignature(s.ctx, res.Passport.ID(), []byte("tampered"), sig)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("rejects invalid input", func() {
		cases := []CreateInput{
			{Name: "", OwnerEmail: "owner@x.com"},
			{Name: "   ", OwnerEmail: "owner@x.com"},
			{Name: strings.Repeat("a", MaxNameLength+1), OwnerEmail: "owner@x.com"},
			{Name: "bot", OwnerEmail: "not-an-email"},
			{Name: "bot", OwnerEmail: ""},
		}
		for _, in := range cases {
			_, err := s.registry.CreateIdentity(s.ctx, in)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "input %+v", in)
		}
	})

	s.Run("stored record holds no private key", func() {
		res := s.create("secretive", "owner@x.com")
		raw, err := s.kv.Get(s.ctx, passportKey(res.Passport.ID()))
		s.Require().NoError(err)
		s.NotContains(string(raw), base64.StdEncoding.EncodeToString(res.PrivateKey))
		s.NotContains(string(raw), base64.StdEncoding.EncodeToString(res.PrivateKey.Seed()))
	})

	s.Run("serializes with top-level id and creation time", func() {
		res := s.create("shaped", "owner@x.com")
		p, err := s.registry.GetIdentity(s.ctx, res.Passport.ID())
		s.Require().NoError(err)
		s.Require().NotNil(p)

		raw, err := json.Marshal(p)
		s.Require().NoError(err)
		var doc map[string]any
		s.Require().NoError(json.Unmarshal(raw, &doc))

		s.Equal(res.Passport.ID(), doc["passport_id"])
		s.Equal("2026-03-01T12:00:00Z", doc["created_at"])
		s.Equal(map[string]any{
			"name":        "shaped",
			"description": "",
			"public_key":  res.PublicKey,
		}, doc["identity"])
		s.Equal(map[string]any{"email": "owner@x.com"}, doc["owner"])
		s.Equal(map[string]any{"level": "unverified", "score": float64(0)}, doc["trust"])
		s.Equal("active", doc["status"])
		s.Len(doc, 6)
	})
}

func (s *RegistrySuite) TestCreateRetriesOnCollision() {
	ids := []domain.PassportID{"ap_aaaaaaaaaaaa", "ap_aaaaaaaaaaaa", "ap_bbbbbbbbbbbb"}
	next := 0
	registry := New(NewKVStore(s.kv), WithMetrics(s.metrics), WithIDGenerator(func() (domain.PassportID, error) {
		id := ids[next]
		next++
		return id, nil
	}))

	first, err := registry.CreateIdentity(s.ctx, CreateInput{Name: "one", OwnerEmail: "a@x.com"})
	s.Require().NoError(err)
	second, err := registry.CreateIdentity(s.ctx, CreateInput{Name: "two", OwnerEmail: "a@x.com"})
	s.Require().NoError(err)

	s.Equal("ap_aaaaaaaaaaaa", first.Passport.ID())
	s.Equal("ap_bbbbbbbbbbbb", second.Passport.ID())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IDCollisions))

	kept, err := registry.GetIdentity(s.ctx, "ap_aaaaaaaaaaaa")
	s.Require().NoError(err)
	s.Equal("one", kept.Identity.Name)
}

func (s *RegistrySuite) TestGetIdentity() {
	s.Run("absent and malformed ids are nil", func() {
		for _, id := range []string{"ap_zzzzzzzzzzzz", "nope", ""} {
			p, err := s.registry.GetIdentity(s.ctx, id)
			s.Require().NoError(err)
			s.Nil(p)
		}
	})
}

func (s *RegistrySuite) TestListIdentities() {
	a := s.create("a", "one@x.com")
	b := s.create("b", "two@x.com")
	c := s.create("c", "One@X.com")

	all, err := s.registry.ListIdentities(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{a.Passport.ID(), b.Passport.ID(), c.Passport.ID()},
		[]string{all[0].PassportID, all[1].PassportID, all[2].PassportID})

	owned, err := s.registry.ListOwned(s.ctx, "one@x.com")
	s.Require().NoError(err)
	s.Require().Len(owned, 2)
	s.Equal(a.Passport.ID(), owned[0].PassportID)
	s.Equal(c.Passport.ID(), owned[1].PassportID)
}

func (s *RegistrySuite) TestRevokeIdentity() {
	res := s.create("bot", "owner@x.com")
	id := res.Passport.ID()

	ok, err := s.registry.RevokeIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.registry.RevokeIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok, "revoking twice still reports true")

	p, err := s.registry.GetIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(StatusRevoked, p.Status)

	sig := ed25519.Sign(res.PrivateKey, []byte("c"))
	valid, err := s.registry.VerifySignature(s.ctx, id, []byte("c"), sig)
	s.Require().NoError(err)
	s.False(valid, "revoked passports never verify")

	ok, err = s.registry.RevokeIdentity(s.ctx, "ap_zzzzzzzzzzzz")
	s.Require().NoError(err)
	s.False(ok)

	s.Equal([]notify.EventType{notify.EventAgentRegistered, notify.EventAgentRevoked}, s.publisher.types())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Revoked))
}

func (s *RegistrySuite) TestDeleteIdentity() {
	res := s.create("bot", "owner@x.com")
	id := res.Passport.ID()

	ok, err := s.registry.DeleteIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.True(ok)

	p, err := s.registry.GetIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.Nil(p)

	ok, err = s.registry.DeleteIdentity(s.ctx, id)
	s.Require().NoError(err)
	s.False(ok)

	s.Equal([]notify.EventType{notify.EventAgentRegistered, notify.EventAgentDeleted}, s.publisher.types())
}

func (s *RegistrySuite) TestOwnershipHelpers() {
	res := s.create("bot", "Owner@X.com")
	other := s.create("other", "owner@x.com")

	owner, name, found, err := s.registry.Lookup(s.ctx, res.Passport.ID())
	s.Require().NoError(err)
	s.True(found)
	s.Equal("owner@x.com", owner)
	s.Equal("bot", name)

	_, _, found, err = s.registry.Lookup(s.ctx, "ap_zzzzzzzzzzzz")
	s.Require().NoError(err)
	s.False(found)

	match, err := s.registry.MatchesKey(s.ctx, res.Passport.ID(), res.PrivateKey)
	s.Require().NoError(err)
	s.True(match)

	match, err = s.registry.MatchesKey(s.ctx, res.Passport.ID(), other.PrivateKey)
	s.Require().NoError(err)
	s.False(match)

	match, err = s.registry.MatchesKey(s.ctx, res.Passport.ID(), ed25519.PrivateKey("short"))
	s.Require().NoError(err)
	s.False(match)
}

func (s *RegistrySuite) TestPublicView() {
	res := s.create("bot", "owner@x.com")
	view := res.Passport.PublicView()

	s.Equal(res.Passport.ID(), view.PassportID)
	s.Equal(res.PublicKey, view.PublicKey)
	s.Equal(StatusActive, view.Status)
}

func (s *RegistrySuite) TestAuthenticateKey() {
	res := s.create("bot", "owner@x.com")
	other := s.create("other", "owner@x.com")
	id := res.Passport.ID()

	p, err := s.registry.AuthenticateKey(s.ctx, id, res.PrivateKey)
	s.Require().NoError(err)
	s.Equal(id, p.ID())

	_, err = s.registry.AuthenticateKey(s.ctx, id, other.PrivateKey)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.registry.AuthenticateKey(s.ctx, "ap_zzzzzzzzzzzz", res.PrivateKey)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.registry.RevokeIdentity(s.ctx, id)
	s.Require().NoError(err)
	_, err = s.registry.AuthenticateKey(s.ctx, id, res.PrivateKey)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *RegistrySuite) TestParsePrivateKey() {
	res := s.create("bot", "owner@x.com")

	full, err := ParsePrivateKey(EncodePrivateKey(res.PrivateKey))
	s.Require().NoError(err)
	s.True(full.Equal(res.PrivateKey))

	fromSeed, err := ParsePrivateKey(base64.StdEncoding.EncodeToString(res.PrivateKey.Seed()))
	s.Require().NoError(err)
	s.True(fromSeed.Equal(res.PrivateKey))

	_, err = ParsePrivateKey("")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = ParsePrivateKey("!!!")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	_, err = ParsePrivateKey(base64.StdEncoding.EncodeToString([]byte("short")))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *RegistrySuite) TestAuthenticateHeader() {
	res, err := s.registry.CreateIdentity(s.ctx, CreateInput{Name: "bot", OwnerEmail: "owner@example.com"})
	s.Require().NoError(err)
	id := res.Passport.ID()

	s.Run("returns the key for a matching header", func() {
		key, err := s.registry.AuthenticateHeader(s.ctx, id, EncodePrivateKey(res.PrivateKey))
		s.Require().NoError(err)
		s.True(key.Equal(res.PrivateKey))
	})

	s.Run("missing header is unauthorized", func() {
		_, err := s.registry.AuthenticateHeader(s.ctx, id, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("foreign key is forbidden", func() {
		_, other, err := ed25519.GenerateKey(nil)
		s.Require().NoError(err)
		_, err = s.registry.AuthenticateHeader(s.ctx, id, EncodePrivateKey(other))
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}
