package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	"sentinel-sos/pkg/platform/circuit"
)

const (
	defaultAttemptTimeout = 5 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 200 * time.Millisecond
)

var (
	tracer = otel.Tracer("sentinel-sos/internal/ledger")

	errReceiptMissing = errors.New("receipt not found")
)

// Verifier reads receipts and extracts anchors. It holds no mutable state
// besides the breaker and the in-flight call group.
type Verifier struct {
	chain          Chain
	contract       common.Address
	breaker        *circuit.Breaker
	group          singleflight.Group
	attemptTimeout time.Duration
	maxRetries     int
	initialBackoff time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(v *Verifier) { v.breaker = b }
}

// WithAttemptTimeout bounds every single RPC attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.attemptTimeout = d
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(v *Verifier) {
		if n >= 0 {
			v.maxRetries = n
		}
	}
}

func WithInitialBackoff(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.initialBackoff = d
		}
	}
}

// New builds a verifier for events emitted by contract.
func New(chain Chain, contract common.Address, opts ...Option) *Verifier {
	v := &Verifier{
		chain:          chain,
		contract:       contract,
		attemptTimeout: defaultAttemptTimeout,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.breaker == nil {
		v.breaker = circuit.New("ledger")
	}
	return v
}

// Verify returns the anchor for txRef. Concurrent calls for the same
// transaction share one ledger read; a caller that gives up does not cancel
// the read for the others.
func (v *Verifier) Verify(ctx context.Context, txRef string) (Anchor, error) {
	ctx, span := tracer.Start(ctx, "ledger.Verify", trace.WithAttributes(attribute.String("ledger.tx_ref", txRef)))
	defer span.End()
	start := time.Now()

	hash, err := parseTxRef(txRef)
	if err != nil {
		v.metrics.observeVerify(start, string(dErrors.CodeOf(err)))
		return Anchor{}, err
	}

	ch := v.group.DoChan(hash.Hex(), func() (any, error) {
		return v.verify(context.WithoutCancel(ctx), hash)
	})

	select {
	case <-ctx.Done():
		v.metrics.observeVerify(start, "cancelled")
		return Anchor{}, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "ledger verification abandoned")
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(res.Err)))
			v.metrics.observeVerify(start, string(dErrors.CodeOf(res.Err)))
			return Anchor{}, res.Err
		}
		anchor := res.Val.(Anchor)
		span.SetAttributes(attribute.String("ledger.incident_id", anchor.IncidentID), attribute.Bool("ledger.shared", res.Shared))
		v.metrics.observeVerify(start, "ok")
		return anchor, nil
	}
}

// VerifyFor is Verify plus the check that the event was emitted for caller.
func (v *Verifier) VerifyFor(ctx context.Context, txRef string, caller domain.Address) (Anchor, error) {
	anchor, err := v.Verify(ctx, txRef)
	if err != nil {
		return Anchor{}, err
	}
	if !anchor.Subject.Equal(caller) {
		v.logger.WarnContext(ctx, "ledger event emitted for a different address",
			"tx_ref", anchor.TxRef,
			"ledger_incident_id", anchor.IncidentID,
		)
		return Anchor{}, dErrors.New(dErrors.CodeIdentityMismatch, "ledger event was not emitted by the caller")
	}
	return anchor, nil
}

// CrossCheck compares the anchor id with the contract's sosCounter. A
// violation is logged and reported as false; it never rejects an incident.
func (v *Verifier) CrossCheck(ctx context.Context, anchor Anchor) (bool, error) {
	ctx, span := tracer.Start(ctx, "ledger.CrossCheck")
	defer span.End()

	id, ok := new(big.Int).SetString(anchor.IncidentID, 10)
	if !ok {
		return false, dErrors.New(dErrors.CodeValidation, "anchor incident id is not decimal")
	}
	data, err := ParsedABI.Pack(counterName)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to pack counter call")
	}

	actx, cancel := context.WithTimeout(ctx, v.attemptTimeout)
	defer cancel()
	out, err := v.chain.CallContract(actx, ethereum.CallMsg{To: &v.contract, Data: data}, nil)
	if err != nil {
		span.RecordError(err)
		return false, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "failed to read incident counter")
	}
	values, err := ParsedABI.Unpack(counterName, out)
	if err != nil || len(values) != 1 {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "unexpected counter response")
	}
	counter, ok := values[0].(*big.Int)
	if !ok {
		return false, dErrors.New(dErrors.CodeInternal, "unexpected counter type")
	}
	if id.Cmp(counter) > 0 {
		v.logger.WarnContext(ctx, "ledger incident id exceeds contract counter",
			"ledger_incident_id", anchor.IncidentID,
			"sos_counter", counter.String(),
			"tx_ref", anchor.TxRef,
		)
		return false, nil
	}
	return true, nil
}

func (v *Verifier) verify(ctx context.Context, hash common.Hash) (Anchor, error) {
	receipt, err := v.fetchReceipt(ctx, hash)
	if err != nil {
		return Anchor{}, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Anchor{}, dErrors.New(dErrors.CodeLedgerTxFailed, "ledger transaction reverted")
	}

	event := ParsedABI.Events[eventName]
	var matches []Anchor
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != v.contract || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		anchor, err := decodeEvent(event, lg)
		if err != nil {
			return Anchor{}, dErrors.Wrap(err, dErrors.CodeEventNotFound, "incident event is malformed")
		}
		anchor.TxRef = hash.Hex()
		if receipt.BlockNumber != nil {
			anchor.BlockNumber = receipt.BlockNumber.Uint64()
		}
		matches = append(matches, anchor)
	}

	switch len(matches) {
	case 0:
		return Anchor{}, dErrors.New(dErrors.CodeEventNotFound, "transaction carries no incident event")
	case 1:
		return matches[0], nil
	default:
		return Anchor{}, dErrors.New(dErrors.CodeEventNotFound, "transaction carries more than one incident event")
	}
}

func (v *Verifier) fetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if !v.breaker.Allow() {
		return nil, dErrors.New(dErrors.CodeLedgerUnavailable, "ledger circuit is open")
	}

	var receipt *types.Receipt
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, v.attemptTimeout)
		defer cancel()
		r, err := v.chain.TransactionReceipt(actx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound), err == nil && r == nil:
			return backoff.Permanent(errReceiptMissing)
		case err != nil:
			return err
		}
		receipt = r
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = v.initialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(v.maxRetries)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		v.metrics.incRetry()
		v.logger.WarnContext(ctx, "ledger rpc attempt failed, retrying",
			"tx_ref", hash.Hex(),
			"wait", wait,
			"error", err,
		)
	})

	switch {
	case err == nil:
		v.recordSuccess()
		return receipt, nil
	case errors.Is(err, errReceiptMissing):
		v.recordSuccess()
		return nil, dErrors.New(dErrors.CodeLedgerNotFound, "transaction not found on ledger")
	default:
		v.recordFailure(ctx)
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger is unavailable")
	}
}

func (v *Verifier) recordSuccess() {
	if _, change := v.breaker.RecordSuccess(); change.Closed {
		v.logger.Info("ledger circuit closed", "breaker", v.breaker.Name())
		v.metrics.setBreakerOpen(false)
	}
}

func (v *Verifier) recordFailure(ctx context.Context) {
	if _, change := v.breaker.RecordFailure(); change.Opened {
		v.logger.ErrorContext(ctx, "ledger circuit opened", "breaker", v.breaker.Name())
		v.metrics.setBreakerOpen(true)
	}
}

func decodeEvent(event abi.Event, lg *types.Log) (Anchor, error) {
	if len(lg.Topics) != 3 {
		return Anchor{}, errors.New("unexpected topic count")
	}
	values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return Anchor{}, err
	}
	if len(values) != 2 {
		return Anchor{}, errors.New("unexpected event data")
	}
	digest, ok := values[0].([32]byte)
	if !ok {
		return Anchor{}, errors.New("report hash is not bytes32")
	}
	ts, ok := values[1].(*big.Int)
	if !ok || !ts.IsInt64() {
		return Anchor{}, errors.New("timestamp is out of range")
	}
	subject, err := domain.ParseAddress(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{
		IncidentID:  new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
		Subject:     subject,
		PayloadHash: hexutil.Encode(digest[:]),
		Timestamp:   time.Unix(ts.Int64(), 0).UTC(),
	}, nil
}

func parseTxRef(txRef string) (common.Hash, error) {
	raw, err := hexutil.Decode(txRef)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, dErrors.New(dErrors.CodeValidation, "txRef must be a 0x-prefixed 32-byte hash")
	}
	return common.BytesToHash(raw), nil
}
