//go:generate mockgen -destination mock_partyprocessor/mock_partyprocessor.go github.com/dxos/dxos-sub075/echo/partyprocessor AdmissionRecorder

// Package partyprocessor tracks which feeds are admitted into a party.
package partyprocessor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/util/crypto"
)

var log = logger.NewNamed("echo.partyprocessor")

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrWrongParty        = errors.New("credential belongs to another party")
	ErrUnknownIssuer     = errors.New("credential issuer is not admitted")
	ErrInvalidSignature  = errors.New("invalid credential signature")
)

// AdmissionRecorder persists admitted feeds
type AdmissionRecorder interface {
	AddAdmittedFeed(ctx context.Context, partyKey, feedKey string) error
}

type AdmitListener func(feedKey string)

// PartyProcessor is the admitted feed set of one party.
// Writers are the invitation host and credential processing, the pipeline reads it.
type PartyProcessor struct {
	partyKey string
	recorder AdmissionRecorder
	log      logger.CtxLogger

	mu        sync.RWMutex
	admitted  map[string]struct{}
	listeners []AdmitListener
}

func New(partyKey string, admitted []string, recorder AdmissionRecorder) *PartyProcessor {
	p := &PartyProcessor{
		partyKey: partyKey,
		recorder: recorder,
		log:      log.With(zap.String("partyKey", partyKey)),
		admitted: make(map[string]struct{}, len(admitted)),
	}
	for _, k := range admitted {
		p.admitted[k] = struct{}{}
	}
	return p
}

func (p *PartyProcessor) PartyKey() string {
	return p.partyKey
}

func (p *PartyProcessor) IsAdmitted(feedKey string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.admitted[feedKey]
	return ok
}

// AdmittedFeeds returns sorted admitted feed keys
func (p *PartyProcessor) AdmittedFeeds() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make([]string, 0, len(p.admitted))
	for k := range p.admitted {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// OnAdmit registers a listener called after every new admission, outside of the lock
func (p *PartyProcessor) OnAdmit(fn AdmitListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Admit adds the feed to the admitted set, it's a no-op for an already admitted feed
func (p *PartyProcessor) Admit(ctx context.Context, feedKey string) (added bool, err error) {
	if _, err = crypto.DecodePublicKey(feedKey); err != nil {
		return false, fmt.Errorf("%w: subject: %w", ErrInvalidCredential, err)
	}
	if p.IsAdmitted(feedKey) {
		return false, nil
	}
	if p.recorder != nil {
		if err = p.recorder.AddAdmittedFeed(ctx, p.partyKey, feedKey); err != nil {
			return false, fmt.Errorf("record admission: %w", err)
		}
	}
	p.mu.Lock()
	if _, ok := p.admitted[feedKey]; ok {
		p.mu.Unlock()
		return false, nil
	}
	p.admitted[feedKey] = struct{}{}
	listeners := append([]AdmitListener(nil), p.listeners...)
	p.mu.Unlock()

	p.log.Info("feed admitted", zap.String("feedKey", feedKey))
	for _, fn := range listeners {
		fn(feedKey)
	}
	return true, nil
}

// ProcessCredential verifies the credential and admits its subject.
// Validation failures wrap ErrInvalidCredential, any other error comes from the recorder.
func (p *PartyProcessor) ProcessCredential(ctx context.Context, c mutation.Credential) error {
	if err := p.Verify(c); err != nil {
		return err
	}
	_, err := p.Admit(ctx, c.Subject)
	return err
}

// Verify checks the credential against the current admitted set
func (p *PartyProcessor) Verify(c mutation.Credential) error {
	if c.PartyKey != p.partyKey {
		return fmt.Errorf("%w: %w: %s", ErrInvalidCredential, ErrWrongParty, c.PartyKey)
	}
	switch c.Type {
	case mutation.CredentialPartyGenesis:
		if c.Issuer != p.partyKey {
			return fmt.Errorf("%w: genesis must be issued by the party key", ErrInvalidCredential)
		}
	case mutation.CredentialAdmitFeed:
		if c.Issuer != p.partyKey && !p.IsAdmitted(c.Issuer) {
			return fmt.Errorf("%w: %w: %s", ErrInvalidCredential, ErrUnknownIssuer, c.Issuer)
		}
	default:
		return fmt.Errorf("%w: type %s", ErrInvalidCredential, c.Type)
	}
	issuer, err := crypto.DecodePublicKey(c.Issuer)
	if err != nil {
		return fmt.Errorf("%w: issuer: %w", ErrInvalidCredential, err)
	}
	ok, err := issuer.Verify(c.SignedPayload(), c.Signature)
	if err != nil || !ok {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, ErrInvalidSignature)
	}
	return nil
}

// NewCredential builds a credential signed by the issuer key
func NewCredential(typ mutation.CredentialType, partyKey, subject string, issuer crypto.PrivKey) (mutation.Credential, error) {
	c := mutation.Credential{
		Type:     typ,
		PartyKey: partyKey,
		Subject:  subject,
		Issuer:   issuer.GetPublic().String(),
	}
	sig, err := issuer.Sign(c.SignedPayload())
	if err != nil {
		return mutation.Credential{}, err
	}
	c.Signature = sig
	return c, nil
}
